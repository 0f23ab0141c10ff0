// Package agentloop implements AgentLoop (spec §4.9): the bounded,
// cancellable per-turn loop that assembles a prompt, streams the model's
// response, routes tool calls through ToolExecutor, and repeats until a stop
// signal, an iteration cap, or cancellation ends the turn.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/approval"
	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/contextbudget"
	"github.com/nextlevelbuilder/codeloom/internal/llmstream"
	"github.com/nextlevelbuilder/codeloom/internal/memory"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/toolexec"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
)

// DefaultMaxIterations bounds one turn's iteration count (spec §4.9 "default
// 50").
const DefaultMaxIterations = 50

// stopToolRequireTextMessage is appended when the model stops without
// emitting a tool call or any text (spec §4.9 pseudocode).
const stopToolRequireTextMessage = "You must either call a tool or provide a final response before finishing."

// Loop orchestrates turns for every chat in the process; it enforces the
// single-writer rule (spec §3 invariant: at most one AgentLoop task runs per
// chat at any time).
type Loop struct {
	repos     *store.Repos
	bus       *bus.Bus
	waiter    *approval.Waiter
	ctxMgr    *contextbudget.Manager
	streamer  *llmstream.Streamer
	executor  *toolexec.Executor
	registry  *tools.Registry
	memRunner *memory.Runner
	verifier  *Verifier

	maxIterations int

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc

	defaultProvider providers.Provider
	defaultModel    string
}

// SetDefaultModel records the provider/model a nested sub-agent run should
// use absent any more specific instruction; callers wire this once at
// startup from the same configuration that picks the top-level chat default.
func (l *Loop) SetDefaultModel(provider providers.Provider, model string) {
	l.defaultProvider = provider
	l.defaultModel = model
}

// New constructs a Loop. memRunner and verifier may be nil to disable
// observational memory scheduling / post-agent verification respectively.
func New(
	repos *store.Repos,
	b *bus.Bus,
	waiter *approval.Waiter,
	ctxMgr *contextbudget.Manager,
	streamer *llmstream.Streamer,
	executor *toolexec.Executor,
	registry *tools.Registry,
	memRunner *memory.Runner,
	verifier *Verifier,
	maxIterations int,
) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		repos:         repos,
		bus:           b,
		waiter:        waiter,
		ctxMgr:        ctxMgr,
		streamer:      streamer,
		executor:      executor,
		registry:      registry,
		memRunner:     memRunner,
		verifier:      verifier,
		maxIterations: maxIterations,
		running:       make(map[uuid.UUID]context.CancelFunc),
	}
}

// TurnInput is everything one turn needs to run.
type TurnInput struct {
	ChatID       uuid.UUID
	ProjectID    uuid.UUID
	CheckpointID uuid.UUID
	ProjectPath  string
	Model        string
	Provider     providers.Provider
	SystemPrompt string
	ContextLimit int
	AutoApprove  []tools.AutoApproveRule
	ThinkingLevel string

	// IsVerificationTurn marks a turn scheduled by post-agent verification
	// itself, so a second round of verification issues doesn't loop forever
	// (spec §4.9 "if the current user message was not itself a verification
	// prompt").
	IsVerificationTurn bool
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	Iterations int
	FinalText  string
	Usage      providers.Usage
}

// Start cancels any in-flight turn for in.ChatID, then launches a new one in
// the background (spec §3 invariant, §5 "new user message ... must cancel
// the in-flight task before scheduling another"). It returns immediately.
func (l *Loop) Start(parent context.Context, in TurnInput) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	l.mu.Lock()
	if prev, ok := l.running[in.ChatID]; ok {
		prev()
	}
	l.running[in.ChatID] = cancel
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			if l.running[in.ChatID] != nil {
				delete(l.running, in.ChatID)
			}
			l.mu.Unlock()
			cancel()
		}()
		if _, err := l.RunTurn(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("agentloop: turn failed", "chat", in.ChatID, "error", err)
			l.publish(in.ChatID, bus.EventError, map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Cancel stops the in-flight turn for chatID, if any (spec §4.9, §5).
// Pending tool approvals are auto-rejected with reason "cancelled" before
// the turn goroutine observes ctx.Done and exits.
func (l *Loop) Cancel(chatID uuid.UUID) {
	l.mu.Lock()
	cancel, ok := l.running[chatID]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.rejectPendingApprovals(chatID, "cancelled")
	cancel()
}

func (l *Loop) rejectPendingApprovals(chatID uuid.UUID, reason string) {
	if l.repos == nil || l.repos.ToolCalls == nil {
		return
	}
	ctx := context.Background()
	calls, err := l.repos.ToolCalls.ListByChat(ctx, chatID)
	if err != nil {
		return
	}
	for _, tc := range calls {
		if tc.Status != store.ToolCallPending {
			continue
		}
		_ = l.repos.ToolCalls.UpdateStatus(ctx, tc.ID, store.ToolCallRejected, "", reason)
		l.waiter.Signal(chatID.String(), tc.ID.String(), approval.Cancelled)
	}
}

// RunTurn drives the iterate loop synchronously (spec §4.9 pseudocode). It
// is exported so tests and Start's goroutine share one implementation.
func (l *Loop) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	var totalUsage providers.Usage
	result := &TurnResult{}

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		result.Iterations = iteration
		if err := ctx.Err(); err != nil {
			l.publish(in.ChatID, bus.EventAgentDone, map[string]interface{}{"reason": "cancelled"})
			return result, err
		}

		history, err := l.repos.Messages.ListByChat(ctx, in.ChatID)
		if err != nil {
			return result, fmt.Errorf("agentloop: load history: %w", err)
		}
		prepared, err := l.ctxMgr.Prepare(ctx, in.ChatID, in.ProjectID, in.ProjectPath, in.Model, in.ContextLimit, in.Provider, toProviderMessages(history))
		if err != nil {
			return result, fmt.Errorf("agentloop: prepare context: %w", err)
		}
		l.publish(in.ChatID, bus.EventContextUpdate, map[string]interface{}{
			"estimatedTokens":   prepared.EstimatedTokens,
			"compactionApplied": prepared.CompactionApplied,
			"iteration":         iteration,
		})

		req := providers.ChatRequest{
			Messages: prepared.Messages,
			Tools:    l.registry.Definitions(),
			Model:    in.Model,
			Options:  map[string]interface{}{},
		}
		if in.ThinkingLevel != "" {
			req.Options[providers.OptThinkingLevel] = in.ThinkingLevel
		}

		streamResult, err := l.streamer.Stream(ctx, in.ChatID, in.Provider, req)
		if err != nil {
			if in.ThinkingLevel != "" && isClientError(err) {
				slog.Warn("agentloop: retrying without reasoning after client error", "chat", in.ChatID, "error", err)
				delete(req.Options, providers.OptThinkingLevel)
				streamResult, err = l.streamer.Stream(ctx, in.ChatID, in.Provider, req)
			}
			if err != nil {
				return result, fmt.Errorf("agentloop: stream: %w", err)
			}
		}
		if streamResult.Usage != nil {
			totalUsage.PromptTokens += streamResult.Usage.PromptTokens
			totalUsage.CompletionTokens += streamResult.Usage.CompletionTokens
			totalUsage.TotalTokens += streamResult.Usage.TotalTokens
		}

		l.persistReasoningBlocks(ctx, in, streamResult.Reasoning)

		if streamResult.Text != "" {
			msg := &store.Message{
				ID:           store.GenNewID(),
				ChatID:       in.ChatID,
				Role:         store.RoleAssistant,
				Content:      streamResult.Text,
				CheckpointID: &in.CheckpointID,
				CreatedAt:    time.Now().UTC(),
			}
			if err := l.repos.Messages.Create(ctx, msg); err != nil {
				return result, fmt.Errorf("agentloop: persist assistant message: %w", err)
			}
			l.publish(in.ChatID, bus.EventMessage, map[string]interface{}{
				"id":      msg.ID.String(),
				"role":    string(msg.Role),
				"content": msg.Content,
			})
			result.FinalText = streamResult.Text
		}

		if streamResult.FinishReason == "stop" || len(streamResult.ToolCalls) == 0 {
			if streamResult.Text != "" {
				l.finishTurn(ctx, in, &totalUsage, result)
				return result, nil
			}
			if err := l.appendSystemNudge(ctx, in.ChatID); err != nil {
				return result, err
			}
			continue
		}

		toolResults, submitSucceeded, err := l.runToolCalls(ctx, in, streamResult.ToolCalls)
		if err != nil {
			return result, err
		}
		_ = toolResults // tool messages are re-read from persistence next iteration

		if l.memRunner != nil {
			l.memRunner.Trigger(in.ChatID)
		}

		if submitSucceeded {
			l.finishTurn(ctx, in, &totalUsage, result)
			return result, nil
		}
	}

	l.publish(in.ChatID, bus.EventAgentDone, map[string]interface{}{"reason": "max_iterations"})
	result.Usage = totalUsage
	return result, nil
}

// finishTurn publishes agent_done and, unless this turn was itself a
// verification follow-up, runs post-agent verification (spec §4.9).
func (l *Loop) finishTurn(ctx context.Context, in TurnInput, usage *providers.Usage, result *TurnResult) {
	result.Usage = *usage
	l.publish(in.ChatID, bus.EventAgentDone, map[string]interface{}{"reason": "stop"})

	if l.verifier == nil || in.IsVerificationTurn {
		return
	}
	issues, err := l.verifier.Verify(ctx, in.ChatID, in.CheckpointID, in.ProjectPath)
	if err != nil {
		slog.Warn("agentloop: post-agent verification failed", "chat", in.ChatID, "error", err)
		return
	}
	if len(issues) == 0 {
		return
	}
	l.scheduleVerificationFollowup(ctx, in, issues)
}

// scheduleVerificationFollowup creates a synthetic user message + checkpoint
// summarizing the issues found and starts another turn (spec §4.9).
func (l *Loop) scheduleVerificationFollowup(ctx context.Context, in TurnInput, issues []Issue) {
	content := formatIssues(issues)
	msg := &store.Message{
		ID:        store.GenNewID(),
		ChatID:    in.ChatID,
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repos.Messages.Create(ctx, msg); err != nil {
		slog.Error("agentloop: persist verification message", "chat", in.ChatID, "error", err)
		return
	}
	cp := &store.Checkpoint{
		ID:        store.GenNewID(),
		ChatID:    in.ChatID,
		MessageID: msg.ID,
		Label:     "verification",
		CreatedAt: msg.CreatedAt,
	}
	if err := l.repos.Checkpoints.Create(ctx, cp); err != nil {
		slog.Error("agentloop: persist verification checkpoint", "chat", in.ChatID, "error", err)
		return
	}
	msg.CheckpointID = &cp.ID
	l.publish(in.ChatID, bus.EventVerificationIssues, map[string]interface{}{
		"checkpointId": cp.ID.String(),
		"issues":       issues,
	})

	next := in
	next.CheckpointID = cp.ID
	next.IsVerificationTurn = true
	l.Start(context.WithoutCancel(ctx), next)
}

// runToolCalls hands the stream's tool calls to ToolExecutor, persists the
// assistant tool-call message, appends results, and special-cases
// submit_task (spec §4.3 "fails if incomplete todos remain").
func (l *Loop) runToolCalls(ctx context.Context, in TurnInput, calls []providers.ToolCall) ([]providers.Message, bool, error) {
	assistantMsg := &store.Message{
		ID:           store.GenNewID(),
		ChatID:       in.ChatID,
		Role:         store.RoleAssistant,
		CheckpointID: &in.CheckpointID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.repos.Messages.Create(ctx, assistantMsg); err != nil {
		return nil, false, fmt.Errorf("agentloop: persist tool-call message: %w", err)
	}

	submitIdx := -1
	for i, c := range calls {
		if c.Name == "submit_task" {
			submitIdx = i
		}
	}

	blocked := false
	if submitIdx >= 0 {
		incomplete, err := l.hasIncompleteTodos(ctx, in.ChatID)
		if err != nil {
			slog.Warn("agentloop: check todos for submit_task", "chat", in.ChatID, "error", err)
		}
		blocked = incomplete
	}

	runCalls := calls
	if blocked {
		runCalls = append([]providers.ToolCall(nil), calls[:submitIdx]...)
		runCalls = append(runCalls, calls[submitIdx+1:]...)
	}

	turn := toolexec.Turn{
		ChatID:       in.ChatID,
		ProjectID:    in.ProjectID,
		CheckpointID: in.CheckpointID,
		Model:        in.Model,
		AutoApprove:  in.AutoApprove,
	}
	results, err := l.executor.Execute(ctx, turn, runCalls)
	if err != nil {
		return nil, false, fmt.Errorf("agentloop: execute tools: %w", err)
	}

	if blocked {
		blockedMsg := providers.Message{
			Role:       string(store.RoleTool),
			Content:    "submit_task rejected: finish or remove incomplete todo items before submitting.",
			ToolCallID: calls[submitIdx].ID,
		}
		results = insertAt(results, submitIdx, blockedMsg)
	}

	for _, r := range results {
		m := &store.Message{
			ID:           store.GenNewID(),
			ChatID:       in.ChatID,
			Role:         store.RoleTool,
			Content:      r.Content,
			CheckpointID: &in.CheckpointID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := l.repos.Messages.Create(ctx, m); err != nil {
			return nil, false, fmt.Errorf("agentloop: persist tool-result message: %w", err)
		}
	}

	submitSucceeded := submitIdx >= 0 && !blocked
	return results, submitSucceeded, nil
}

func insertAt(results []providers.Message, idx int, msg providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(results)+1)
	out = append(out, results[:idx]...)
	out = append(out, msg)
	out = append(out, results[idx:]...)
	return out
}

func (l *Loop) hasIncompleteTodos(ctx context.Context, chatID uuid.UUID) (bool, error) {
	if l.repos == nil || l.repos.Todos == nil {
		return false, nil
	}
	todos, err := l.repos.Todos.ListByChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	for _, t := range todos {
		if t.Status != store.TodoCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (l *Loop) appendSystemNudge(ctx context.Context, chatID uuid.UUID) error {
	msg := &store.Message{
		ID:        store.GenNewID(),
		ChatID:    chatID,
		Role:      store.RoleSystem,
		Content:   stopToolRequireTextMessage,
		CreatedAt: time.Now().UTC(),
	}
	return l.repos.Messages.Create(ctx, msg)
}

func (l *Loop) persistReasoningBlocks(ctx context.Context, in TurnInput, blocks []llmstream.Reasoning) {
	if l.repos == nil || l.repos.Reasoning == nil {
		return
	}
	for _, b := range blocks {
		rb := &store.ReasoningBlock{
			ID:             store.GenNewID(),
			ChatID:         in.ChatID,
			CheckpointID:   in.CheckpointID,
			Content:        b.Content,
			DurationMillis: b.DurationMillis,
			CreatedAt:      time.Now().UTC(),
		}
		if err := l.repos.Reasoning.Create(ctx, rb); err != nil {
			slog.Warn("agentloop: persist reasoning block", "chat", in.ChatID, "error", err)
		}
	}
}

func (l *Loop) publish(chatID uuid.UUID, eventType string, payload interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(chatID.String(), eventType, payload)
}

func toProviderMessages(msgs []*store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// isClientError reports whether err looks like a 4xx the provider returned,
// the condition under which AgentLoop retries once without reasoning (spec
// §4.9, §7 "Upstream provider").
func isClientError(err error) bool {
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 400 && httpErr.Status < 500
	}
	return false
}
