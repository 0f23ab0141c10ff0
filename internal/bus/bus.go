// Package bus implements the per-chat sequenced event stream that backs the
// server-sent-events endpoint (spec §4.1, §6). Each chat gets its own
// monotonically increasing sequence number; subscribers get a bounded queue
// and are dropped outright rather than allowed to block a publish.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity is the default bound on a subscriber's event queue.
const DefaultQueueCapacity = 200

// Event is a single server-side event belonging to a chat's stream.
// ChatID, Timestamp and Sequence are stamped by the bus at publish time;
// callers only set Type and Payload.
type Event struct {
	ChatID    string      `json:"chatId"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
	Sequence  int64       `json:"sequence"`
}

// Event type constants, matching the wire vocabulary in spec §6.
const (
	EventMessage           = "message"
	EventContentDelta      = "content_delta"
	EventMessageDelta      = "message_delta"
	EventMessageComplete   = "message_complete"
	EventMessageEdited     = "message_edited"
	EventReasoningStart    = "reasoning_start"
	EventReasoningDelta    = "reasoning_delta"
	EventReasoningEnd      = "reasoning_end"
	EventToolCallStart     = "tool_call_start"
	EventToolCallEnd       = "tool_call_end"
	EventApprovalRequired  = "approval_required"
	EventFileEdit          = "file_edit"
	EventCheckpoint        = "checkpoint"
	EventCheckpointCreated = "checkpoint_created"
	EventObservationReady  = "observation_ready"
	EventObservationStatus = "observation_status"
	EventCompactionApplied = "compaction_applied"
	EventContextUpdate     = "context_update"
	EventAgentDone         = "agent_done"
	EventVerificationIssues = "verification_issues"
	EventPlanReady         = "plan_ready"
	EventPlanUpdated       = "plan_updated"
	EventPlanConflict      = "plan_conflict"
	EventPlanApproved      = "plan_approved"
	EventSubAgentStart     = "sub_agent_start"
	EventSubAgentProgress  = "sub_agent_progress"
	EventSubAgentToolCall  = "sub_agent_tool_call"
	EventSubAgentEnd       = "sub_agent_end"
	EventChatTitleUpdated  = "chat_title_updated"
	EventError             = "error"
)

type subscriber struct {
	id    string
	queue chan Event
}

// Bus is a per-chat publish/subscribe event stream. The zero value is not
// usable; construct with New.
type Bus struct {
	mu            sync.Mutex
	seq           map[string]int64
	subscribers   map[string][]*subscriber
	queueCapacity int
	nowFn         func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueCapacity overrides the default per-subscriber queue bound.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.queueCapacity = n }
}

// withClock overrides the bus's time source; used by tests.
func withClock(fn func() time.Time) Option {
	return func(b *Bus) { b.nowFn = fn }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		seq:           make(map[string]int64),
		subscribers:   make(map[string][]*subscriber),
		queueCapacity: DefaultQueueCapacity,
		nowFn:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber for a chat's event stream and returns
// a read-only channel of events plus an unsubscribe function. Subscribers
// only ever observe events published after they subscribe; the bus keeps no
// history.
func (b *Bus) Subscribe(chatID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:    uuid.NewString(),
		queue: make(chan Event, b.queueCapacity),
	}
	b.subscribers[chatID] = append(b.subscribers[chatID], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeSubscriber(chatID, sub.id)
	}
	return sub.queue, unsubscribe
}

func (b *Bus) removeSubscriber(chatID, id string) {
	subs := b.subscribers[chatID]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[chatID] = append(subs[:i], subs[i+1:]...)
			close(s.queue)
			return
		}
	}
}

// Publish stamps chatID/timestamp/sequence onto the event and delivers it to
// every current subscriber of that chat. Delivery is non-blocking: a
// subscriber whose queue is full is evicted (its queue closed and removed)
// rather than allowed to stall the publisher. Publish never blocks.
func (b *Bus) Publish(chatID, eventType string, payload interface{}) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[chatID]++
	evt := Event{
		ChatID:    chatID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.nowFn().UTC().Format(time.RFC3339Nano),
		Sequence:  b.seq[chatID],
	}

	var evicted []string
	for _, sub := range b.subscribers[chatID] {
		select {
		case sub.queue <- evt:
		default:
			evicted = append(evicted, sub.id)
		}
	}
	for _, id := range evicted {
		b.removeSubscriber(chatID, id)
	}
	return evt
}

// LastSequence returns the most recently assigned sequence number for a
// chat, or 0 if nothing has been published yet.
func (b *Bus) LastSequence(chatID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq[chatID]
}

// SubscriberCount reports the number of live subscribers for a chat; mainly
// useful in tests asserting eviction behavior.
func (b *Bus) SubscriberCount(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[chatID])
}

// Drain reads events off ch until ctx is done, invoking fn for each. Used by
// the SSE handler to forward bus events onto an http.ResponseWriter.
func Drain(ctx context.Context, ch <-chan Event, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fn(evt)
		}
	}
}
