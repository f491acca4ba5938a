package worker

import (
	"context"
	"testing"
	"time"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/testutil"
)

func TestLogWriterPersistsEverything(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	w := NewLogWriter(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	const n = 50
	for i := 0; i < n; i++ {
		w.Enqueue(&amppool.LogRecord{Model: "gpt-4o", Status: amppool.StatusSuccess})
	}

	// Cancellation must drain the queue before Run returns.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Run has returned; no writer goroutines remain.
	if got := len(store.Logs); got != n {
		t.Fatalf("persisted %d records, want %d", got, n)
	}
}

func TestLogWriterName(t *testing.T) {
	t.Parallel()
	if NewLogWriter(testutil.NewFakeStore()).Name() != "log_writer" {
		t.Error("unexpected worker name")
	}
}
