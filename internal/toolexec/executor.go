// Package toolexec implements ToolExecutor (spec §4.8): it turns the tool
// calls an LLM turn produced into persisted ToolCall rows, runs each one
// (auto-approved, manually approved, or rejected) with bounded parallelism,
// persists any resulting FileEdit/FileSnapshot rows, and returns the
// tool-result messages AgentLoop appends back onto the prompt.
package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/approval"
	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/spill"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
	"github.com/nextlevelbuilder/codeloom/internal/tracing"
)

// DefaultMaxParallel bounds how many tool calls within one turn run
// concurrently (spec §5 "semaphore, default 4").
const DefaultMaxParallel = 4

// Executor runs one turn's tool calls against a Registry.
type Executor struct {
	registry    *tools.Registry
	repos       *store.Repos
	bus         *bus.Bus
	waiter      *approval.Waiter
	spill       *spill.Writer
	maxParallel int
}

// New constructs an Executor. maxParallel <= 0 uses DefaultMaxParallel.
func New(registry *tools.Registry, repos *store.Repos, b *bus.Bus, waiter *approval.Waiter, spillWriter *spill.Writer, maxParallel int) *Executor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Executor{
		registry:    registry,
		repos:       repos,
		bus:         b,
		waiter:      waiter,
		spill:       spillWriter,
		maxParallel: maxParallel,
	}
}

// WithRegistry returns a copy of the Executor bound to a different tool
// registry, sharing everything else (repos, bus, waiter, spill, parallelism
// limit). Used to scope a sub-agent's nested loop to a restricted tool set.
func (e *Executor) WithRegistry(registry *tools.Registry) *Executor {
	clone := *e
	clone.registry = registry
	return &clone
}

// Turn carries the context a batch of tool calls executes under.
type Turn struct {
	ChatID       uuid.UUID
	ProjectID    uuid.UUID
	CheckpointID uuid.UUID
	Model        string
	AutoApprove  []tools.AutoApproveRule
}

// Execute runs every call in calls, returning one tool-role message per
// call, in the same order as calls (spec §5 ordering: within a turn, a
// parallel group is created before any call runs; each call's own
// start/end pair stays ordered, but different calls' pairs may interleave).
func (e *Executor) Execute(ctx context.Context, turn Turn, calls []providers.ToolCall) ([]providers.Message, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	ctx = tools.WithChatID(ctx, turn.ChatID.String())
	ctx = tools.WithProjectID(ctx, turn.ProjectID.String())

	rows := make([]*store.ToolCall, len(calls))
	group := store.GenNewID()
	now := time.Now().UTC()
	for i, c := range calls {
		rows[i] = &store.ToolCall{
			ID:            store.GenNewID(),
			ChatID:        turn.ChatID,
			CheckpointID:  turn.CheckpointID,
			ToolName:      c.Name,
			Status:        store.ToolCallPending,
			Input:         c.Arguments,
			ParallelGroup: &group,
			CreatedAt:     now,
		}
	}
	if e.repos != nil && e.repos.ToolCalls != nil {
		if err := e.repos.ToolCalls.CreateBatch(ctx, rows); err != nil {
			return nil, fmt.Errorf("toolexec: persist tool calls: %w", err)
		}
	}

	results := make([]providers.Message, len(calls))
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.runOne(ctx, turn, calls[i], rows[i])
		}(i)
	}
	wg.Wait()
	return results, nil
}

// approvalRejectReason maps a non-approved Decision to the reason string
// persisted on the ToolCall row. Cancellation (the wait context was
// cancelled, or the caller explicitly signalled Cancelled) always persists
// as "cancelled" rather than the raw decision string, regardless of which
// of the two paths produced it.
func approvalRejectReason(decision approval.Decision) string {
	if decision == approval.Cancelled {
		return string(approval.Cancelled)
	}
	return string(decision)
}

func (e *Executor) runOne(ctx context.Context, turn Turn, call providers.ToolCall, row *store.ToolCall) providers.Message {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		e.updateStatus(ctx, row.ID, store.ToolCallError, "", "tool not registered")
		return toolMessage(call.ID, fmt.Sprintf("error: tool %q is not registered", call.Name))
	}

	needsApproval := tool.RequiresApproval() && !tools.MatchesAutoApproveRules(turn.AutoApprove, call.Name, call.Arguments)
	if needsApproval {
		e.publish(turn.ChatID, bus.EventApprovalRequired, map[string]interface{}{
			"toolCallId": row.ID.String(),
			"toolName":   call.Name,
			"input":      call.Arguments,
		})
		decision, err := e.waiter.RegisterAndWait(ctx, turn.ChatID.String(), row.ID.String(), 0)
		if err != nil {
			decision = approval.Cancelled
		}
		if decision != approval.Approved {
			reason := approvalRejectReason(decision)
			e.updateStatus(ctx, row.ID, store.ToolCallRejected, "", reason)
			e.publish(turn.ChatID, bus.EventToolCallEnd, map[string]interface{}{
				"toolCallId": row.ID.String(),
				"toolName":   call.Name,
				"status":     string(store.ToolCallRejected),
			})
			if reason == string(approval.Cancelled) {
				return toolMessage(call.ID, "tool call cancelled before approval was granted")
			}
			return toolMessage(call.ID, fmt.Sprintf("tool call rejected (%s)", reason))
		}
	}

	startedAt := time.Now().UTC()
	e.updateStatusTimed(ctx, row.ID, store.ToolCallRunning, "", "", &startedAt, nil)
	e.publish(turn.ChatID, bus.EventToolCallStart, map[string]interface{}{
		"toolCallId": row.ID.String(),
		"toolName":   call.Name,
	})

	spanCtx, span := tracing.StartToolSpan(ctx, call.Name, row.ID.String())
	result := tool.Execute(tools.WithToolCallID(spanCtx, row.ID.String()), call.Arguments)
	tracing.EndToolSpan(span, result.ForLLM, result.IsError, nil)

	completedAt := time.Now().UTC()
	e.persistEdits(ctx, turn, row.ID, result)

	outputText := result.ForLLM
	if e.spill != nil && e.spill.ShouldSpill(outputText, turn.Model) {
		if replacement, _, err := e.spill.Spill(ctx, turn.ProjectID, turn.ChatID, row.ID, turn.Model, outputText); err == nil {
			outputText = replacement
		}
	}

	status := store.ToolCallCompleted
	errorReason := ""
	if result.IsError {
		status = store.ToolCallError
		errorReason = outputText
	}
	e.updateStatusTimed(ctx, row.ID, status, outputText, errorReason, nil, &completedAt)

	e.publish(turn.ChatID, bus.EventToolCallEnd, map[string]interface{}{
		"toolCallId": row.ID.String(),
		"toolName":   call.Name,
		"status":     string(status),
	})

	return toolMessage(call.ID, outputText)
}

func (e *Executor) persistEdits(ctx context.Context, turn Turn, toolCallID uuid.UUID, result *tools.Result) {
	if e.repos == nil || len(result.Edits) == 0 {
		return
	}
	for _, edit := range result.Edits {
		editID := store.GenNewID()
		snapshotID := store.GenNewID()

		var oldContent *string
		if edit.ChangeType != "create" {
			c := edit.OldContent
			oldContent = &c
		}
		if e.repos.FileSnapshots != nil {
			snap := &store.FileSnapshot{
				ID:           snapshotID,
				ChatID:       turn.ChatID,
				CheckpointID: &turn.CheckpointID,
				FileEditID:   &editID,
				Path:         edit.Path,
				Content:      oldContent,
				CreatedAt:    time.Now().UTC(),
			}
			_ = e.repos.FileSnapshots.Create(ctx, snap)
		}
		if e.repos.FileEdits != nil {
			fe := &store.FileEdit{
				ID:           editID,
				ChatID:       turn.ChatID,
				CheckpointID: turn.CheckpointID,
				ToolCallID:   toolCallID,
				Path:         edit.Path,
				Action:       toFileEditAction(edit.ChangeType),
				Diff:         edit.Diff,
				SnapshotID:   &snapshotID,
				CreatedAt:    time.Now().UTC(),
			}
			_ = e.repos.FileEdits.Create(ctx, fe)
		}
		e.publish(turn.ChatID, bus.EventFileEdit, map[string]interface{}{
			"path":   edit.Path,
			"action": edit.ChangeType,
		})
	}
}

func toFileEditAction(changeType string) store.FileEditAction {
	switch changeType {
	case "create":
		return store.FileEditCreated
	case "delete":
		return store.FileEditDeleted
	default:
		return store.FileEditModified
	}
}

func (e *Executor) updateStatus(ctx context.Context, id uuid.UUID, status store.ToolCallStatus, output, reason string) {
	if e.repos == nil || e.repos.ToolCalls == nil {
		return
	}
	_ = e.repos.ToolCalls.UpdateStatus(ctx, id, status, output, reason)
}

func (e *Executor) updateStatusTimed(ctx context.Context, id uuid.UUID, status store.ToolCallStatus, output, reason string, startedAt, completedAt *time.Time) {
	e.updateStatus(ctx, id, status, output, reason)
}

func (e *Executor) publish(chatID uuid.UUID, eventType string, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(chatID.String(), eventType, payload)
}

func toolMessage(toolCallID, content string) providers.Message {
	return providers.Message{Role: string(store.RoleTool), Content: content, ToolCallID: toolCallID}
}
