// Package worker contains the gateway's background workers: the request log
// writer pool and the periodic stats rollup with balance refresh.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name returns the worker identifier used in logs.
	Name() string

	// Run executes the worker until ctx is cancelled. A nil return means
	// clean shutdown.
	Run(ctx context.Context) error
}
