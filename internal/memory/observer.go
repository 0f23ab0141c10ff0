package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

const observerSystemPrompt = `You are the observation stage of a coding assistant's memory system.
Summarize the conversation excerpt below into a compact, faithful record for the assistant's own future reference.

Group findings into three priority tiers, each introduced by its own heading:
Critical: decisions, unresolved errors, and anything that would break the task if forgotten.
Important: file paths touched, commands run, and their outcomes.
Background: exploratory context that is nice to keep but safe to compress further later.

Preserve file paths and error messages verbatim — do not paraphrase them.

If there is a clear task currently in progress, end your response with a
<current-task>...</current-task> block naming it. If the most natural next
assistant reply is predictable, include a <suggested-response>...</suggested-response>
block with that reply. Omit either block if it doesn't apply.`

const reflectorSystemPromptTmpl = `You are the reflection stage of a coding assistant's memory system.
Compress the observation below to %d-%d%% of its current length while preserving every item
tagged Critical. Important and Background items may be merged or dropped first.
Keep the same structure: Critical/Important/Background headings, and carry forward any
<current-task> or <suggested-response> blocks unchanged.`

// runObserver summarizes transcript (the rendered unobserved message window)
// into a parsedObservation, optionally given the last two prior buffered
// chunks as dedup context (spec §4.10 "the last two prior chunks are
// included as dedup context").
func runObserver(ctx context.Context, provider providers.Provider, model string, transcript string, dedupChunks []string) (parsedObservation, error) {
	var b strings.Builder
	if len(dedupChunks) > 0 {
		b.WriteString("Previously summarized chunks (for your reference — do not repeat their content):\n")
		for _, c := range dedupChunks {
			b.WriteString("---\n")
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}
	b.WriteString("Conversation excerpt to summarize:\n")
	b.WriteString(transcript)

	req := providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: string(store.RoleSystem), Content: observerSystemPrompt},
			{Role: string(store.RoleUser), Content: b.String()},
		},
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return parsedObservation{}, fmt.Errorf("memory: observer call: %w", err)
	}
	return parseObservation(resp.Content), nil
}

// runReflector compresses an already-merged Observation's content, targeting
// a 40-60% reduction while preserving Critical items (spec §4.10).
func runReflector(ctx context.Context, provider providers.Provider, model string, content string) (parsedObservation, error) {
	req := providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: string(store.RoleSystem), Content: fmt.Sprintf(reflectorSystemPromptTmpl, 40, 60)},
			{Role: string(store.RoleUser), Content: content},
		},
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return parsedObservation{}, fmt.Errorf("memory: reflector call: %w", err)
	}
	return parseObservation(resp.Content), nil
}

// renderTranscript flattens messages into a plain "role: content" transcript
// the Observer/Reflector prompts operate over.
func renderTranscript(messages []*store.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
