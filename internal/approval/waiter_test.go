package approval

import (
	"context"
	"testing"
	"time"
)

func TestRegisterAndWaitApproved(t *testing.T) {
	w := New()
	done := make(chan Decision, 1)
	go func() {
		d, err := w.RegisterAndWait(context.Background(), "chat-1", "tc-1", time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- d
	}()

	// give the goroutine a chance to register before signaling
	for !w.IsPending("chat-1", "tc-1") {
		time.Sleep(time.Millisecond)
	}
	w.Signal("chat-1", "tc-1", Approved)

	select {
	case d := <-done:
		if d != Approved {
			t.Fatalf("expected Approved, got %v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestRegisterAndWaitTimesOut(t *testing.T) {
	w := New()
	d, err := w.RegisterAndWait(context.Background(), "chat-1", "tc-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != TimedOut {
		t.Fatalf("expected TimedOut, got %v", d)
	}
	if w.IsPending("chat-1", "tc-1") {
		t.Fatal("expected registration to be cleaned up after timeout")
	}
}

func TestSignalBeforeRegisterIsLost(t *testing.T) {
	w := New()
	// Signal with nobody waiting: must be a silent no-op, not a panic or block.
	w.Signal("chat-1", "tc-1", Approved)

	d, err := w.RegisterAndWait(context.Background(), "chat-1", "tc-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != TimedOut {
		t.Fatalf("expected TimedOut since the earlier signal should have been lost, got %v", d)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	w := New()
	go w.RegisterAndWait(context.Background(), "chat-1", "tc-1", time.Second)
	for !w.IsPending("chat-1", "tc-1") {
		time.Sleep(time.Millisecond)
	}

	_, err := w.RegisterAndWait(context.Background(), "chat-1", "tc-1", time.Second)
	if err != ErrAlreadyPending {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	w.Signal("chat-1", "tc-1", Rejected)
}

func TestContextCancellation(t *testing.T) {
	w := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := w.RegisterAndWait(ctx, "chat-1", "tc-1", time.Minute)
		errCh <- err
	}()
	for !w.IsPending("chat-1", "tc-1") {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation to propagate")
	}
}
