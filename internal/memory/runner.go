package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tokencount"
	"github.com/nextlevelbuilder/codeloom/internal/tracing"
)

// Runner is the per-process ObservationalMemory scheduler: at most one
// active cycle per chat, with at most one pending request coalesced behind
// it (spec §4.10, §5).
type Runner struct {
	repos    *store.Repos
	bus      *bus.Bus
	provider providers.Provider
	model    string
	cfg      Config

	mu    sync.Mutex
	chats map[uuid.UUID]*chatRunner
}

type chatRunner struct {
	mu      sync.Mutex
	running bool
	queued  bool
	cancel  context.CancelFunc
}

// New constructs a Runner. provider/model are used for both the Observer and
// Reflector LLM calls.
func New(repos *store.Repos, b *bus.Bus, provider providers.Provider, model string, cfg Config) *Runner {
	return &Runner{
		repos:    repos,
		bus:      b,
		provider: provider,
		model:    model,
		cfg:      cfg,
		chats:    make(map[uuid.UUID]*chatRunner),
	}
}

func (r *Runner) chatRunnerFor(chatID uuid.UUID) *chatRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr, ok := r.chats[chatID]
	if !ok {
		cr = &chatRunner{}
		r.chats[chatID] = cr
	}
	return cr
}

// Trigger schedules a cycle for chatID. If a cycle is already running, the
// request is coalesced behind it rather than starting a second cycle.
func (r *Runner) Trigger(chatID uuid.UUID) {
	cr := r.chatRunnerFor(chatID)
	cr.mu.Lock()
	if cr.running {
		cr.queued = true
		cr.mu.Unlock()
		return
	}
	cr.running = true
	ctx, cancel := context.WithCancel(context.Background())
	cr.cancel = cancel
	cr.mu.Unlock()

	go r.runLoop(ctx, chatID, cr)
}

// Cancel stops any in-flight cycle for chatID (spec §5 "cancel ... the
// ObservationalMemory runner for the chat").
func (r *Runner) Cancel(chatID uuid.UUID) {
	cr := r.chatRunnerFor(chatID)
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.cancel != nil {
		cr.cancel()
	}
	cr.queued = false
}

func (r *Runner) runLoop(ctx context.Context, chatID uuid.UUID, cr *chatRunner) {
	for {
		r.runCycle(ctx, chatID)
		cr.mu.Lock()
		if cr.queued && ctx.Err() == nil {
			cr.queued = false
			cr.mu.Unlock()
			continue
		}
		cr.running = false
		cr.queued = false
		cr.cancel = nil
		cr.mu.Unlock()
		return
	}
}

func (r *Runner) publish(chatID uuid.UUID, status string, extra map[string]interface{}) {
	if r.bus == nil {
		return
	}
	payload := map[string]interface{}{"status": status}
	for k, v := range extra {
		payload[k] = v
	}
	r.bus.Publish(chatID.String(), bus.EventObservationStatus, payload)
}

// runCycle executes one full ObservationalMemory cycle for chatID (spec
// §4.10). Every exit path publishes a terminal observation_status event.
func (r *Runner) runCycle(ctx context.Context, chatID uuid.UUID) {
	ctx, span := tracing.StartMemoryCycleSpan(ctx, chatID.String())
	status := "done"
	var cycleErr error
	defer func() { tracing.EndMemoryCycleSpan(span, status, cycleErr) }()

	r.publish(chatID, "observing", nil)

	if ctx.Err() != nil {
		status = "error"
		cycleErr = ctx.Err()
		r.publish(chatID, "error", map[string]interface{}{"error": "cancelled"})
		return
	}

	state, err := r.loadState(ctx, chatID)
	if err != nil {
		status, cycleErr = "error", err
		r.publish(chatID, "error", map[string]interface{}{"error": err.Error()})
		return
	}

	counter := tokencount.NewCounter(r.model)

	bufferActivated, err := r.maybeBuffer(ctx, chatID, state, counter)
	if err != nil {
		status, cycleErr = "error", err
		r.publish(chatID, "error", map[string]interface{}{"error": err.Error()})
		return
	}
	if ctx.Err() != nil {
		status, cycleErr = "error", ctx.Err()
		r.publish(chatID, "error", map[string]interface{}{"error": "cancelled"})
		return
	}

	activated, tokensSaved, err := r.maybeActivate(ctx, chatID, state, counter)
	if err != nil {
		status, cycleErr = "error", err
		r.publish(chatID, "error", map[string]interface{}{"error": err.Error()})
		return
	}

	if !bufferActivated && !activated {
		r.publish(chatID, "observed", map[string]interface{}{"tokensSaved": 0})
		return
	}
	if activated {
		r.publish(chatID, "observed", map[string]interface{}{"tokensSaved": tokensSaved})
		if err := r.maybeReflect(ctx, chatID, counter); err != nil {
			status, cycleErr = "error", err
			r.publish(chatID, "error", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	r.publish(chatID, "observed", map[string]interface{}{"tokensSaved": 0})
}

type cycleState struct {
	observation *store.Observation
	memState    *store.MemoryState
}

func (r *Runner) loadState(ctx context.Context, chatID uuid.UUID) (*cycleState, error) {
	obs, err := r.repos.Observations.Latest(ctx, chatID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("memory: load observation: %w", err)
	}
	if err == store.ErrNotFound {
		obs = nil
	}
	ms, err := r.repos.MemoryStates.Get(ctx, chatID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("memory: load memory state: %w", err)
	}
	if err == store.ErrNotFound || ms == nil {
		ms = &store.MemoryState{ID: store.GenNewID(), ChatID: chatID, Strategy: "observational"}
	}
	return &cycleState{observation: obs, memState: ms}, nil
}

// maybeBuffer implements spec §4.10 "Passive buffering".
func (r *Runner) maybeBuffer(ctx context.Context, chatID uuid.UUID, state *cycleState, counter *tokencount.Counter) (bool, error) {
	bufferWaterline := state.memState.Blob.UpToMessageID
	msgs, err := r.repos.Messages.ListAfter(ctx, chatID, bufferWaterline)
	if err != nil {
		return false, fmt.Errorf("list unobserved_buffer: %w", err)
	}
	if len(msgs) == 0 {
		return false, nil
	}
	tokens := counter.Count(renderTranscript(msgs))
	boundary := tokens / r.cfg.bufferInterval()
	if boundary <= state.memState.Blob.LastBoundary {
		return false, nil
	}

	dedup := lastNChunkContents(state.memState.Blob.Chunks, 2)
	parsed, err := runObserver(ctx, r.provider, r.model, renderTranscript(msgs), dedup)
	if err != nil {
		return false, err
	}

	last := msgs[len(msgs)-1]
	chunk := store.BufferedChunk{
		Content:       parsed.Content,
		TokenCount:    counter.Count(parsed.Content),
		UpToMessageID: last.ID,
		UpToTimestamp: last.CreatedAt,
	}
	state.memState.Blob.Chunks = append(state.memState.Blob.Chunks, chunk)
	state.memState.Blob.LastBoundary = boundary
	state.memState.Blob.UpToMessageID = &last.ID
	state.memState.Blob.UpToTimestamp = &last.CreatedAt
	state.memState.UpdatedAt = time.Now().UTC()

	if err := r.repos.MemoryStates.Upsert(ctx, state.memState); err != nil {
		return false, fmt.Errorf("persist memory state: %w", err)
	}
	return true, nil
}

func lastNChunkContents(chunks []store.BufferedChunk, n int) []string {
	if len(chunks) <= n {
		out := make([]string, len(chunks))
		for i, c := range chunks {
			out[i] = c.Content
		}
		return out
	}
	tail := chunks[len(chunks)-n:]
	out := make([]string, len(tail))
	for i, c := range tail {
		out[i] = c.Content
	}
	return out
}

// maybeActivate implements spec §4.10 "Activation".
func (r *Runner) maybeActivate(ctx context.Context, chatID uuid.UUID, state *cycleState, counter *tokencount.Counter) (bool, int, error) {
	var activeWaterline *uuid.UUID
	if state.observation != nil {
		activeWaterline = state.observation.ObservedUpToMessageID
	}
	activeMsgs, err := r.repos.Messages.ListAfter(ctx, chatID, activeWaterline)
	if err != nil {
		return false, 0, fmt.Errorf("list unobserved_active: %w", err)
	}
	if len(activeMsgs) == 0 {
		return false, 0, nil
	}
	activeTokens := counter.Count(renderTranscript(activeMsgs))
	if activeTokens < r.cfg.ObserverThresholdTokens {
		return false, 0, nil
	}

	var mergedContent string
	var currentTask, suggested string
	var observedUpTo uuid.UUID

	if len(state.memState.Blob.Chunks) > 0 {
		var parts []string
		for _, c := range state.memState.Blob.Chunks {
			parts = append(parts, c.Content)
		}
		mergedContent = joinChunks(parts)
		last := state.memState.Blob.Chunks[len(state.memState.Blob.Chunks)-1]
		observedUpTo = last.UpToMessageID
	} else {
		parsed, err := runObserver(ctx, r.provider, r.model, renderTranscript(activeMsgs), nil)
		if err != nil {
			return false, 0, err
		}
		mergedContent = parsed.Content
		currentTask = parsed.CurrentTask
		suggested = parsed.SuggestedResponse
		last := activeMsgs[len(activeMsgs)-1]
		observedUpTo = last.ID
	}

	newGen := 0
	if state.observation != nil {
		newGen = state.observation.Generation + 1
	}
	mergedTokens := counter.Count(mergedContent)
	obs := &store.Observation{
		ID:                    store.GenNewID(),
		ChatID:                chatID,
		Generation:            newGen,
		Content:               mergedContent,
		TokenCount:            mergedTokens,
		TriggerTokenCount:     activeTokens,
		ObservedUpToMessageID: &observedUpTo,
		CurrentTask:           currentTask,
		SuggestedResponse:     suggested,
		CreatedAt:             time.Now().UTC(),
	}
	if err := r.repos.Observations.Create(ctx, obs); err != nil {
		return false, 0, fmt.Errorf("create observation: %w", err)
	}
	if err := r.repos.Observations.DeleteEarlierGenerations(ctx, chatID, newGen); err != nil {
		return false, 0, fmt.Errorf("prune earlier observations: %w", err)
	}

	state.memState.Blob.Chunks = nil
	state.memState.Blob.LastBoundary = 0
	state.memState.UpdatedAt = time.Now().UTC()
	if err := r.repos.MemoryStates.Upsert(ctx, state.memState); err != nil {
		return false, 0, fmt.Errorf("persist memory state: %w", err)
	}

	state.observation = obs
	return true, activeTokens - mergedTokens, nil
}

func joinChunks(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// maybeReflect implements spec §4.10 "Reflection".
func (r *Runner) maybeReflect(ctx context.Context, chatID uuid.UUID, counter *tokencount.Counter) error {
	obs, err := r.repos.Observations.Latest(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reload observation: %w", err)
	}
	if obs.TokenCount < r.cfg.ReflectorThresholdTokens {
		return nil
	}

	r.publish(chatID, "reflecting", nil)
	tokensBefore := obs.TokenCount
	parsed, err := runReflector(ctx, r.provider, r.model, obs.Content)
	if err != nil {
		return err
	}
	content := parsed.Content
	currentTask := parsed.CurrentTask
	suggested := parsed.SuggestedResponse
	if currentTask == "" {
		currentTask = obs.CurrentTask
	}
	if suggested == "" {
		suggested = obs.SuggestedResponse
	}

	tokensAfter := counter.Count(content)
	newGen := obs.Generation + 1
	reflected := &store.Observation{
		ID:                    store.GenNewID(),
		ChatID:                chatID,
		Generation:            newGen,
		Content:               content,
		TokenCount:            tokensAfter,
		TriggerTokenCount:     obs.TriggerTokenCount,
		ObservedUpToMessageID: obs.ObservedUpToMessageID,
		CurrentTask:           currentTask,
		SuggestedResponse:     suggested,
		CreatedAt:             time.Now().UTC(),
	}
	if err := r.repos.Observations.Create(ctx, reflected); err != nil {
		return fmt.Errorf("create reflected observation: %w", err)
	}
	if err := r.repos.Observations.DeleteEarlierGenerations(ctx, chatID, newGen); err != nil {
		return fmt.Errorf("prune earlier observations: %w", err)
	}
	r.publish(chatID, "reflected", map[string]interface{}{
		"tokensBefore": tokensBefore,
		"tokensAfter":  tokensAfter,
	})
	return nil
}
