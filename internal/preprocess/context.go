package preprocess

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/spill"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// MemoryRenderer is the seam the memory-strategy preprocessor calls through;
// internal/memory implements it so this package never imports internal/memory
// directly (avoiding a cycle, since memory also depends on tokencount and
// providers but not preprocess).
type MemoryRenderer interface {
	// Render returns the replacement for every message at or before the
	// active Observation's waterline: one system message wrapping the
	// Observation in <observations>…</observations>, optionally followed by
	// a short user/assistant "understood, continue" exchange, plus the
	// index of the first message in pc.Messages that is NOT covered by the
	// Observation (i.e. where the unobserved suffix begins). ok is false
	// when there is no active Observation to apply.
	Render(ctx context.Context, chatID uuid.UUID, messages []providers.Message) (rendered []providers.Message, unobservedFrom int, ok bool)
}

// Context is the mutable, shared state every Preprocessor reads and writes
// (spec §4.5, §9 "each preprocessor reads/writes a shared mutable context
// object"). ContextBudgetManager constructs one per Prepare call.
type Context struct {
	ChatID      uuid.UUID
	ProjectID   uuid.UUID
	ProjectPath string

	Model        string
	ContextLimit int

	DefaultSystemPrompt string

	// Messages is the working message list every preprocessor mutates in
	// place; it starts as the chat's persisted history plus the new turn's
	// user message and ends as the prompt ContextBudgetManager hands to the
	// LLMStreamer.
	Messages []providers.Message

	Repos    *store.Repos
	Provider providers.Provider
	Spill    *spill.Writer
	Memory   MemoryRenderer

	// RecentWindowMessages is the minimum number of trailing messages
	// auto-compaction always leaves verbatim (spec §4.6 "recent-window
	// messages").
	RecentWindowMessages int

	// Outputs, populated by preprocessors for the caller/metadata.
	EstimatedTokens   int
	CompactionApplied bool
	ProjectOverviewAt int // index of the injected project-overview message, -1 if none

	// ForceCompaction bypasses autoCompactionStep's threshold check, running
	// prefix summarization unconditionally — the /summarize endpoint's
	// "force context compaction" contract (spec §6).
	ForceCompaction bool

	Now func() time.Time
}

func (pc *Context) now() time.Time {
	if pc.Now != nil {
		return pc.Now()
	}
	return time.Now().UTC()
}
