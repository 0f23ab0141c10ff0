// Package tokencount implements the tiktoken-style token estimation spec §4.6
// calls for: ContextBudgetManager records estimated tokens and whether
// compaction fired, and ObservationalMemory sizes its buffer/active windows
// in tokens rather than characters or messages.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
)

// fallbackEncoding is used whenever a model-specific encoding can't be
// resolved; cl100k_base covers every modern chat model closely enough for
// budget estimation purposes.
const fallbackEncoding = "cl100k_base"

var (
	mu    sync.Mutex
	cache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) *tiktoken.Tiktoken {
	mu.Lock()
	defer mu.Unlock()
	if enc, ok := cache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			// tiktoken-go's bundled cl100k_base can't fail to load; if it
			// somehow does there is nothing sane to fall back to further.
			panic("tokencount: cl100k_base encoding unavailable: " + err.Error())
		}
	}
	cache[model] = enc
	return enc
}

// Counter estimates token counts for a specific model's encoding.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
}

// NewCounter returns a Counter for model, falling back to cl100k_base when
// the model isn't one tiktoken-go recognizes directly.
func NewCounter(model string) *Counter {
	return &Counter{model: model, enc: encodingFor(model)}
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// perMessageOverhead approximates the per-message role/formatting tax chat
// completion APIs add on top of raw content tokens.
const perMessageOverhead = 4

// CountMessage estimates the token cost of a single provider message,
// including its role and tool-call payload.
func (c *Counter) CountMessage(m providers.Message) int {
	n := perMessageOverhead + c.Count(m.Role) + c.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += c.Count(tc.Name)
		for k, v := range tc.Arguments {
			n += c.Count(k)
			if s, ok := v.(string); ok {
				n += c.Count(s)
			} else {
				n += 8 // non-string argument values: flat estimate
			}
		}
	}
	for range m.Images {
		n += 1200 // flat per-image estimate; providers vary by resolution/tiling
	}
	return n
}

// CountMessages estimates the total token cost of a message list.
func (c *Counter) CountMessages(messages []providers.Message) int {
	total := 3 // priming tokens every chat completion reply starts with
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}
