package bus

import (
	"testing"
	"time"
)

func TestPublishStampsSequenceAndChatID(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("chat-1")
	defer unsubscribe()

	b.Publish("chat-1", EventToolCallStart, map[string]string{"tool": "read_file"})
	b.Publish("chat-1", EventToolCallEnd, map[string]string{"tool": "read_file"})

	first := <-ch
	second := <-ch

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", first.Sequence, second.Sequence)
	}
	if first.ChatID != "chat-1" || second.ChatID != "chat-1" {
		t.Fatalf("expected chatID chat-1 on both events")
	}
	if first.Timestamp == "" {
		t.Fatalf("expected non-empty timestamp")
	}
}

func TestSequencesArePerChat(t *testing.T) {
	b := New()
	chA, unsubA := b.Subscribe("a")
	defer unsubA()
	chB, unsubB := b.Subscribe("b")
	defer unsubB()

	b.Publish("a", EventMessageDelta, nil)
	b.Publish("b", EventMessageDelta, nil)
	b.Publish("a", EventMessageDelta, nil)

	evtA1 := <-chA
	evtA2 := <-chA
	evtB1 := <-chB

	if evtA1.Sequence != 1 || evtA2.Sequence != 2 {
		t.Fatalf("chat a sequence mismatch: got %d, %d", evtA1.Sequence, evtA2.Sequence)
	}
	if evtB1.Sequence != 1 {
		t.Fatalf("chat b sequence should start at 1, got %d", evtB1.Sequence)
	}
}

func TestLateSubscriberDoesNotSeePastEvents(t *testing.T) {
	b := New()
	b.Publish("chat-1", EventMessageDelta, "hello")

	ch, unsubscribe := b.Subscribe("chat-1")
	defer unsubscribe()

	select {
	case evt := <-ch:
		t.Fatalf("expected no buffered event for late subscriber, got %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberIsEvictedOnQueueFull(t *testing.T) {
	b := New(WithQueueCapacity(2))
	_, unsubscribe := b.Subscribe("chat-1")
	defer unsubscribe()

	if got := b.SubscriberCount("chat-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	// Fill the queue past capacity without draining it.
	b.Publish("chat-1", EventMessageDelta, 1)
	b.Publish("chat-1", EventMessageDelta, 2)
	b.Publish("chat-1", EventMessageDelta, 3)

	if got := b.SubscriberCount("chat-1"); got != 0 {
		t.Fatalf("expected subscriber to be evicted after queue overflow, got count %d", got)
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	b := New()
	_, unsubscribe := b.Subscribe("chat-1")
	if got := b.SubscriberCount("chat-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	unsubscribe()
	if got := b.SubscriberCount("chat-1"); got != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", got)
	}
}

func TestPublishDoesNotBlockWithNoSubscribers(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		b.Publish("chat-1", EventMessageDelta, "x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}
