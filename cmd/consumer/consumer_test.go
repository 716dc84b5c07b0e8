package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/chat2carpool/internal/models"
)

// fakeProcessor fails a set number of times before succeeding.
type fakeProcessor struct {
	failures int
	calls    int
}

func (f *fakeProcessor) Process(ctx context.Context, msg models.InboundMessage) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("api unavailable")
	}
	return nil
}

func TestProcessWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeProcessor{failures: 2}
	msg := models.InboundMessage{SessionID: "s1", UserID: "alice", Body: "hi"}
	start := time.Now()
	if err := processWithRetry(context.Background(), f, msg, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected at least one backoff")
	}
}

func TestProcessWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeProcessor{failures: 5}
	msg := models.InboundMessage{SessionID: "s1", Body: "hi"}
	if err := processWithRetry(context.Background(), f, msg, 3, 5*time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestProcessWithRetryHonorsCancellation(t *testing.T) {
	f := &fakeProcessor{failures: 10}
	msg := models.InboundMessage{SessionID: "s1", Body: "hi"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := processWithRetry(ctx, f, msg, 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
