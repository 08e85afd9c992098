package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paperpilot/orchestrator/internal/logging"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(logging.Init("notify-test", false, "debug"))

	var mu sync.Mutex
	var got []Event
	b.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, "BatchProcessingStarted")

	b.Publish(context.Background(), "BatchProcessingStarted", map[string]int{"count": 3})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for delivery")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublishIgnoresUnrelatedEventNames(t *testing.T) {
	b := New(logging.Init("notify-test", false, "debug"))
	called := make(chan struct{}, 1)
	b.Subscribe(func(e Event) { called <- struct{}{} }, "BatchProcessingCompleted")

	b.Publish(context.Background(), "BatchProcessingStarted", nil)

	select {
	case <-called:
		t.Fatalf("subscriber for a different event name should not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSurvivesPanickingSubscriber(t *testing.T) {
	b := New(logging.Init("notify-test", false, "debug"))
	ok := make(chan struct{}, 1)
	b.Subscribe(func(e Event) { panic("boom") }, "x")
	b.Subscribe(func(e Event) { ok <- struct{}{} }, "x")

	b.Publish(context.Background(), "x", nil)

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatalf("well-behaved subscriber should still receive the event")
	}
}
