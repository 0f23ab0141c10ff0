// Package llmstream implements LLMStreamer (spec §4.7): it wraps one
// streaming provider call, republishing content/reasoning deltas onto the
// EventBus as they arrive and reassembling the final StreamResult the agent
// loop appends onto the conversation.
//
// Tool-call argument reassembly itself (fragmented id/name/arguments across
// deltas, keyed by index then id, deduplicated across "output_item.added"/
// "done" event pairs) is handled inside internal/providers — each Provider's
// ChatStream already returns fully-assembled providers.ToolCall values on
// StreamResult, grounded on the teacher's internal/providers/openai.go
// accumulator. This package only owns the reasoning-block lifecycle and
// event fan-out spec'd here, not a second reassembly pass.
package llmstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/tracing"
)

// Reasoning is one completed reasoning block produced during a stream.
type Reasoning struct {
	ID             string
	Content        string
	DurationMillis int64
}

// Result is what one Stream call hands back to the agent loop (spec §4.7
// "StreamResult").
type Result struct {
	Text         string
	ToolCalls    []providers.ToolCall
	Reasoning    []Reasoning
	FinishReason string
	Usage        *providers.Usage
}

// Streamer wraps a Provider.ChatStream call, publishing content/reasoning
// events to the bus in the order the provider yields them (spec §4.7,
// ordering guarantee in spec §5).
type Streamer struct {
	bus *bus.Bus
}

// New constructs a Streamer. b may be nil (events are simply not published),
// which is convenient for sub-agent runs that don't have their own chat id.
func New(b *bus.Bus) *Streamer {
	return &Streamer{bus: b}
}

// Stream consumes one streaming call to provider and returns the assembled
// Result. Reasoning blocks transition reasoning_start -> reasoning_delta* ->
// reasoning_end the first time the stream moves from thinking to content,
// tool calls, or the stream's end (spec §4.7).
func (s *Streamer) Stream(ctx context.Context, chatID uuid.UUID, provider providers.Provider, req providers.ChatRequest) (*Result, error) {
	if provider == nil {
		return nil, fmt.Errorf("llmstream: no provider configured")
	}

	ctx, span := tracing.StartLLMSpan(ctx, provider.Name(), req.Model, lastMessagePreview(req.Messages))

	var (
		reasoningID    string
		reasoningStart time.Time
		reasoningBuf   strings.Builder
		reasoningDone  []Reasoning
		inReasoning    bool
	)

	endReasoning := func() {
		if !inReasoning {
			return
		}
		dur := time.Since(reasoningStart)
		s.publish(chatID, bus.EventReasoningEnd, map[string]interface{}{"reasoningId": reasoningID})
		reasoningDone = append(reasoningDone, Reasoning{
			ID:             reasoningID,
			Content:        reasoningBuf.String(),
			DurationMillis: dur.Milliseconds(),
		})
		inReasoning = false
		reasoningBuf.Reset()
	}

	resp, err := provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		switch {
		case chunk.Thinking != "":
			if !inReasoning {
				inReasoning = true
				reasoningID = uuid.NewString()
				reasoningStart = time.Now()
				s.publish(chatID, bus.EventReasoningStart, map[string]interface{}{"reasoningId": reasoningID})
			}
			reasoningBuf.WriteString(chunk.Thinking)
			s.publish(chatID, bus.EventReasoningDelta, map[string]interface{}{
				"reasoningId": reasoningID,
				"delta":       chunk.Thinking,
			})
		case chunk.Content != "":
			endReasoning()
			s.publish(chatID, bus.EventContentDelta, map[string]interface{}{"delta": chunk.Content})
		case chunk.Done:
			endReasoning()
		}
	})
	endReasoning()
	if err != nil {
		tracing.EndLLMSpan(span, "", "", 0, 0, err)
		return nil, fmt.Errorf("llmstream: stream: %w", err)
	}

	promptTokens, completionTokens := 0, 0
	if resp.Usage != nil {
		promptTokens, completionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	tracing.EndLLMSpan(span, resp.Content, resp.FinishReason, promptTokens, completionTokens, nil)

	return &Result{
		Text:         resp.Content,
		ToolCalls:    resp.ToolCalls,
		Reasoning:    reasoningDone,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}, nil
}

func (s *Streamer) publish(chatID uuid.UUID, eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(chatID.String(), eventType, payload)
}

// lastMessagePreview returns the newest message's content, the span's input
// preview attribute (spec'd tracing attaches the prompt that triggered the
// call, not the whole history).
func lastMessagePreview(msgs []providers.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}
