package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amppool "github.com/amphq/amppool/internal"
)

const (
	logWriterCount = 5
	logQueueSize   = 1000
	logDrainTime   = 30 * time.Second
)

// LogStore is the persistence interface consumed by LogWriter.
type LogStore interface {
	InsertLog(ctx context.Context, r *amppool.LogRecord) error
}

// LogWriter persists request log records off the request path. A fixed pool
// of writers consumes a shared FIFO queue; Enqueue never drops a record, it
// blocks when the queue is full so every request leaves an audit row.
type LogWriter struct {
	ch    chan *amppool.LogRecord
	store LogStore
}

// NewLogWriter creates a LogWriter backed by store.
func NewLogWriter(store LogStore) *LogWriter {
	return &LogWriter{
		ch:    make(chan *amppool.LogRecord, logQueueSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (w *LogWriter) Name() string { return "log_writer" }

// Enqueue queues a record for persistence. Blocks when the queue is full.
func (w *LogWriter) Enqueue(r *amppool.LogRecord) {
	w.ch <- r
}

// QueueLen returns the current queue depth.
func (w *LogWriter) QueueLen() int { return len(w.ch) }

// Run starts the writer pool and blocks until ctx is cancelled and every
// queued record has been drained.
func (w *LogWriter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < logWriterCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.write(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (w *LogWriter) write(ctx context.Context) {
	for {
		select {
		case r := <-w.ch:
			w.insert(ctx, r)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain persists whatever is still queued, with a bounded grace period.
func (w *LogWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTime)
	defer cancel()

	for {
		select {
		case r := <-w.ch:
			w.insert(ctx, r)
		default:
			return
		}
	}
}

func (w *LogWriter) insert(ctx context.Context, r *amppool.LogRecord) {
	if err := w.store.InsertLog(ctx, r); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log insert failed",
			slog.String("model", r.Model),
			slog.String("error", err.Error()),
		)
	}
}
