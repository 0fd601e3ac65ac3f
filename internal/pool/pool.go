// Package pool runs per-file watermark tasks with bounded parallelism.
//
// A Pool is created per job run and owned exclusively by that run. Two
// strategies exist: Threads executes tasks on goroutines inside the
// service process, Processes isolates each task in a child process. The
// strategy is chosen once at startup and bound into a Factory.
package pool

import (
	"context"
	"encoding/json"
	"runtime"
)

// Task describes one file to process.
type Task struct {
	Src      string          `json:"src"`
	Dst      string          `json:"dst"`
	Template json.RawMessage `json:"template"`
	Format   string          `json:"format"`
	Quality  int             `json:"quality"`
}

// Result is the outcome of one task. Err is empty on success. The output
// file may exist even when Err is set; only Err decides success.
type Result struct {
	Out string `json:"out"`
	Err string `json:"err,omitempty"`
}

// ExecFunc applies one task.
type ExecFunc func(ctx context.Context, t Task) Result

// Pool runs tasks with bounded parallelism.
type Pool interface {
	// Submit queues a task. It never blocks: queue capacity is fixed at
	// construction to the job's file count. Must not be called after Close.
	Submit(t Task)
	// Results delivers outcomes in completion order. The channel closes
	// once every settled task has been delivered after Close. Tasks
	// dropped by CancelPending deliver nothing.
	Results() <-chan Result
	// CancelPending drops queued tasks that have not started yet. Tasks
	// already executing run to completion and still deliver results.
	// Idempotent, never blocks.
	CancelPending()
	// Close marks the end of submissions. Workers are released once
	// outstanding tasks settle.
	Close()
}

// Factory builds the Pool for one job run with the given queue capacity.
type Factory func(capacity int) Pool

// Width is the task parallelism used by both strategies, at least one.
func Width() int {
	return max(1, runtime.NumCPU())
}
