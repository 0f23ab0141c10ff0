// Package preprocess implements the PreprocessorPipeline (spec §4.5): an
// ordered list of message transforms that ContextBudgetManager runs over a
// shared mutable Context before handing messages to the LLMStreamer. Each
// preprocessor's priority fixes its position; a panicking or erroring
// preprocessor is logged and swallowed so it can never break the rest of the
// pipeline (§4.5, §9 "Dynamic pipeline of preprocessors").
package preprocess

import (
	"context"
	"log/slog"
	"sort"
)

// Preprocessor is one ordered transform step over a shared Context.
type Preprocessor interface {
	// Name identifies the preprocessor for logging.
	Name() string
	// Priority orders preprocessors ascending; lower runs first.
	Priority() int
	// Process mutates pc in place.
	Process(ctx context.Context, pc *Context) error
}

// Required preprocessor priorities (spec §4.5).
const (
	PrioritySystemPrompt     = 10
	PriorityTodoReminder     = 12
	PriorityProjectOverview  = 15
	PriorityTokenEstimation  = 20
	PriorityToolResultPrune  = 40
	PriorityMemoryStrategy   = 50
	PriorityAutoCompaction   = 95
)

// Pipeline runs a fixed, priority-ordered set of Preprocessors.
type Pipeline struct {
	steps []Preprocessor
}

// New constructs a Pipeline, sorting steps by priority ascending. Ties break
// by insertion order (sort.SliceStable).
func New(steps ...Preprocessor) *Pipeline {
	sorted := make([]Preprocessor, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Pipeline{steps: sorted}
}

// Run executes every preprocessor in priority order against pc. A
// preprocessor that returns an error or panics is logged and skipped — it
// never aborts the remaining pipeline (spec §4.5).
func (p *Pipeline) Run(ctx context.Context, pc *Context) {
	for _, step := range p.steps {
		runStep(ctx, step, pc)
	}
}

func runStep(ctx context.Context, step Preprocessor, pc *Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("preprocess.panic", "preprocessor", step.Name(), "recover", r)
		}
	}()
	if err := step.Process(ctx, pc); err != nil {
		slog.Warn("preprocess.error", "preprocessor", step.Name(), "error", err)
	}
}
