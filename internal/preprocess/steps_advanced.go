package preprocess

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tokencount"
)

// toolResultPruneStep spills any tool-role message whose content exceeds the
// spill threshold to disk and replaces it in place with the preview+pointer
// text, keeping the prompt itself small regardless of how large a tool's raw
// output was (spec §4.5 priority 40, §4.11).
type toolResultPruneStep struct{}

func ToolResultPruneStep() Preprocessor { return toolResultPruneStep{} }

func (toolResultPruneStep) Name() string  { return "tool_result_prune" }
func (toolResultPruneStep) Priority() int { return PriorityToolResultPrune }

func (s toolResultPruneStep) Process(ctx context.Context, pc *Context) error {
	if pc.Spill == nil {
		return nil
	}
	for i := range pc.Messages {
		m := &pc.Messages[i]
		if m.Role != string(store.RoleTool) {
			continue
		}
		if !pc.Spill.ShouldSpill(m.Content, pc.Model) {
			continue
		}
		toolCallID, err := uuid.Parse(m.ToolCallID)
		if err != nil {
			toolCallID = store.GenNewID()
		}
		replacement, _, err := pc.Spill.Spill(ctx, pc.ProjectID, pc.ChatID, toolCallID, pc.Model, m.Content)
		if err != nil {
			return fmt.Errorf("tool_result_prune: %w", err)
		}
		m.Content = replacement
	}
	return nil
}

// memoryStrategyStep replaces every message covered by the chat's active
// Observation with its rendered <observations> block, leaving only the
// unobserved suffix verbatim — the mechanism that lets ObservationalMemory
// keep the prompt bounded across very long chats (spec §4.5 priority 50,
// §4.10).
type memoryStrategyStep struct{}

func MemoryStrategyStep() Preprocessor { return memoryStrategyStep{} }

func (memoryStrategyStep) Name() string  { return "memory_strategy" }
func (memoryStrategyStep) Priority() int { return PriorityMemoryStrategy }

func (s memoryStrategyStep) Process(ctx context.Context, pc *Context) error {
	if pc.Memory == nil {
		return nil
	}
	rendered, unobservedFrom, ok := pc.Memory.Render(ctx, pc.ChatID, pc.Messages)
	if !ok {
		return nil
	}
	if unobservedFrom < 0 || unobservedFrom > len(pc.Messages) {
		return fmt.Errorf("memory_strategy: unobservedFrom %d out of range for %d messages", unobservedFrom, len(pc.Messages))
	}
	out := make([]providers.Message, 0, len(rendered)+len(pc.Messages)-unobservedFrom)
	out = append(out, rendered...)
	out = append(out, pc.Messages[unobservedFrom:]...)
	pc.Messages = out
	return nil
}

// autoCompactionStep is the last-resort fallback (spec §4.5 priority 95,
// §4.6): when, after every other preprocessor has run, the prompt still
// exceeds the compaction threshold, it asks the provider to summarize
// everything before a trailing recent window and replaces that prefix with
// the summary. It never runs when ObservationalMemory already compacted the
// prefix enough — that's just the re-estimate coming in under threshold.
type autoCompactionStep struct {
	// thresholdFraction is the fraction of ContextLimit that triggers
	// compaction (spec §4.6 "95% of context limit").
	thresholdFraction float64
}

const autoCompactionThresholdFraction = 0.95

func AutoCompactionStep() Preprocessor {
	return autoCompactionStep{thresholdFraction: autoCompactionThresholdFraction}
}

func (autoCompactionStep) Name() string  { return "auto_compaction" }
func (autoCompactionStep) Priority() int { return PriorityAutoCompaction }

func (s autoCompactionStep) Process(ctx context.Context, pc *Context) error {
	if pc.ContextLimit <= 0 || pc.Provider == nil {
		return nil
	}
	counter := tokencount.NewCounter(pc.Model)
	pc.EstimatedTokens = counter.CountMessages(pc.Messages)
	threshold := int(float64(pc.ContextLimit) * s.thresholdFraction)
	if pc.EstimatedTokens < threshold && !pc.ForceCompaction {
		return nil
	}

	recentWindow := pc.RecentWindowMessages
	if recentWindow <= 0 {
		recentWindow = 10
	}
	splitAt := len(pc.Messages) - recentWindow
	if splitAt <= 1 {
		// Too little history to compact; nothing to do but leave it to the
		// provider to reject the request if it's genuinely over budget.
		return nil
	}
	// Never split the recent window starting on a tool-role message: the
	// provider requires a tool call's assistant turn and its tool-result
	// turn to stay adjacent (spec §4.6 "recent-window split doesn't start on
	// a tool-role message").
	for splitAt > 1 && pc.Messages[splitAt].Role == string(store.RoleTool) {
		splitAt--
	}

	prefix := pc.Messages[:splitAt]
	recent := pc.Messages[splitAt:]
	if len(prefix) == 0 {
		return nil
	}

	summary, err := summarizePrefix(ctx, pc.Provider, pc.Model, prefix)
	if err != nil {
		return fmt.Errorf("auto_compaction: %w", err)
	}

	compacted := make([]providers.Message, 0, 1+len(recent))
	compacted = append(compacted, providers.Message{
		Role:    string(store.RoleSystem),
		Content: "Summary of earlier conversation (compacted to stay within the context window):\n" + summary,
	})
	compacted = append(compacted, recent...)
	pc.Messages = compacted
	pc.CompactionApplied = true
	pc.EstimatedTokens = counter.CountMessages(pc.Messages)
	return nil
}

func summarizePrefix(ctx context.Context, provider providers.Provider, model string, prefix []providers.Message) (string, error) {
	req := providers.ChatRequest{
		Model: model,
		Messages: append([]providers.Message{{
			Role: string(store.RoleSystem),
			Content: "Summarize the conversation below for the assistant's own future reference. " +
				"Preserve concrete facts, file paths, decisions, and any unresolved tasks. Be concise.",
		}}, prefix...),
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
