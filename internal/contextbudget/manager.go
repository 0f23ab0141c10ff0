// Package contextbudget implements ContextBudgetManager (spec §4.6): the
// component AgentLoop calls once per iteration to turn a chat's persisted
// message history into the exact prompt sent to the LLM, by constructing a
// preprocess.Context and running the fixed PreprocessorPipeline over it.
package contextbudget

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/preprocess"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/spill"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// DefaultRecentWindowMessages mirrors config.CompactionConfig.KeepLastMessages's
// default (spec §4.6).
const DefaultRecentWindowMessages = 4

// Manager assembles prompts for a single agent loop; it is safe for
// concurrent use across chats since preprocess.Context is constructed fresh
// per call.
type Manager struct {
	repos               *store.Repos
	spill               *spill.Writer
	memory              preprocess.MemoryRenderer
	pipeline            *preprocess.Pipeline
	defaultSystemPrompt string
	recentWindowMsgs    int
}

// New constructs a Manager wired to the default preprocessor set (spec
// §4.5's required seven steps, in priority order).
func New(repos *store.Repos, spillWriter *spill.Writer, memory preprocess.MemoryRenderer, defaultSystemPrompt string, recentWindowMessages int) *Manager {
	if recentWindowMessages <= 0 {
		recentWindowMessages = DefaultRecentWindowMessages
	}
	return &Manager{
		repos:               repos,
		spill:               spillWriter,
		memory:              memory,
		defaultSystemPrompt: defaultSystemPrompt,
		recentWindowMsgs:    recentWindowMessages,
		pipeline: preprocess.New(
			preprocess.SystemPromptStep(),
			preprocess.TodoReminderStep(),
			preprocess.ProjectOverviewStep(),
			preprocess.TokenEstimationStep(),
			preprocess.ToolResultPruneStep(),
			preprocess.MemoryStrategyStep(),
			preprocess.AutoCompactionStep(),
		),
	}
}

// Result is what Prepare hands back to AgentLoop: the assembled prompt plus
// the bookkeeping AgentLoop/httpapi report as context_update events.
type Result struct {
	Messages          []providers.Message
	EstimatedTokens   int
	CompactionApplied bool
}

// Prepare runs the pipeline over chatID's message history and returns the
// final prompt. messages is the chat's persisted history plus the new turn
// already appended by the caller; contextLimit is the active model's context
// window in tokens.
func (m *Manager) Prepare(
	ctx context.Context,
	chatID, projectID uuid.UUID,
	projectPath, model string,
	contextLimit int,
	provider providers.Provider,
	messages []providers.Message,
) (*Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("contextbudget: Prepare called with no messages")
	}
	pc := &preprocess.Context{
		ChatID:                chatID,
		ProjectID:             projectID,
		ProjectPath:           projectPath,
		Model:                 model,
		ContextLimit:          contextLimit,
		DefaultSystemPrompt:   m.defaultSystemPrompt,
		Messages:              append([]providers.Message(nil), messages...),
		Repos:                 m.repos,
		Provider:              provider,
		Spill:                 m.spill,
		Memory:                m.memory,
		RecentWindowMessages:  m.recentWindowMsgs,
		ProjectOverviewAt:     -1,
	}
	m.pipeline.Run(ctx, pc)
	return &Result{
		Messages:          pc.Messages,
		EstimatedTokens:   pc.EstimatedTokens,
		CompactionApplied: pc.CompactionApplied,
	}, nil
}

// ForceCompact runs the same pipeline as Prepare but forces autoCompactionStep
// to summarize the history prefix regardless of the current token estimate —
// the POST /summarize endpoint's "force context compaction" contract (spec §6).
func (m *Manager) ForceCompact(
	ctx context.Context,
	chatID, projectID uuid.UUID,
	projectPath, model string,
	contextLimit int,
	provider providers.Provider,
	messages []providers.Message,
) (*Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("contextbudget: ForceCompact called with no messages")
	}
	pc := &preprocess.Context{
		ChatID:               chatID,
		ProjectID:            projectID,
		ProjectPath:          projectPath,
		Model:                model,
		ContextLimit:         contextLimit,
		DefaultSystemPrompt:  m.defaultSystemPrompt,
		Messages:             append([]providers.Message(nil), messages...),
		Repos:                m.repos,
		Provider:             provider,
		Spill:                m.spill,
		Memory:               m.memory,
		RecentWindowMessages: m.recentWindowMsgs,
		ProjectOverviewAt:    -1,
		ForceCompaction:      true,
	}
	m.pipeline.Run(ctx, pc)
	return &Result{
		Messages:          pc.Messages,
		EstimatedTokens:   pc.EstimatedTokens,
		CompactionApplied: pc.CompactionApplied,
	}, nil
}
