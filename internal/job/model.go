// Package job tracks watermark batch runs: their state machine, the
// in-memory registry, and the runner goroutine that drives each job
// through its worker pool.
package job

import (
	"sync"
	"time"

	"github.com/stampd/stampd/internal/pool"
)

type State string

const (
	StateQueued     State = "queued"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
)

// Terminal returns true for states that represent a final outcome.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// canTransition reports whether moving from s to next goes forward.
// Terminal states accept nothing.
func (s State) canTransition(next State) bool {
	switch s {
	case StateQueued:
		return next == StateRunning || next == StateCancelling
	case StateRunning:
		return next == StateCancelling || next == StateDone
	case StateCancelling:
		return next == StateCancelled
	default:
		return false
	}
}

// Job is one watermark batch run. The runner goroutine is the only writer
// of the counters; the mutex exists so status reads see a consistent
// point-in-time snapshot, never a torn one.
type Job struct {
	mu          sync.RWMutex
	id          string
	state       State
	total       int
	done        int
	errors      int
	outDir      string
	cancel      bool
	pool        pool.Pool
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

// Snapshot is the JSON view of a job at one instant.
type Snapshot struct {
	ID          string     `json:"job_id"`
	State       State      `json:"state"`
	Total       int        `json:"total"`
	Done        int        `json:"done"`
	Errors      int        `json:"errors"`
	OutDir      string     `json:"out_dir"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a job with the fixed file count. Streaming jobs begin in
// StateRunning, polled jobs in StateQueued.
func New(id string, total int, outDir string, initial State) *Job {
	j := &Job{
		id:        id,
		state:     initial,
		total:     total,
		outDir:    outDir,
		createdAt: time.Now().UTC(),
	}
	if initial == StateRunning {
		now := j.createdAt
		j.startedAt = &now
	}
	return j
}

func (j *Job) ID() string {
	return j.id
}

// Snapshot returns a consistent point-in-time view.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          j.id,
		State:       j.state,
		Total:       j.total,
		Done:        j.done,
		Errors:      j.errors,
		OutDir:      j.outDir,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

// CancelRequested reports whether a cancel has been requested. The runner
// checks it before each submission; it never interrupts running work.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancel
}

// requestCancel flips the one-shot cancel flag and moves the job to
// cancelling. Queued work attached to the pool is dropped; in-flight work
// keeps running. Repeated calls are no-ops. Returns false when the job is
// already done.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateDone:
		return false
	case StateCancelled, StateCancelling:
		return true
	}
	j.cancel = true
	j.state = StateCancelling
	if j.pool != nil {
		// Non-blocking by the Pool contract.
		j.pool.CancelPending()
	}
	return true
}

// begin moves a queued job to running. A job already cancelled before its
// runner got scheduled stays that way.
func (j *Job) begin() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.canTransition(StateRunning) {
		return
	}
	j.state = StateRunning
	now := time.Now().UTC()
	j.startedAt = &now
}

// attachPool exposes the run's pool to cancellation. A cancel that
// arrived before the pool existed is re-applied to it here.
func (j *Job) attachPool(p pool.Pool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pool = p
	if j.cancel {
		p.CancelPending()
	}
}

// record folds one settled file into the counters and returns the new
// done count. done never decreases and never exceeds total.
func (j *Job) record(failed bool) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done < j.total {
		j.done++
		if failed {
			j.errors++
		}
	}
	return j.done
}

// finish drives the job to its terminal state exactly once, detaches the
// pool and stamps the completion time. Safe to call from a deferred path.
func (j *Job) finish() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		if j.cancel {
			j.state = StateCancelled
		} else {
			j.state = StateDone
		}
		now := time.Now().UTC()
		j.completedAt = &now
	}
	j.pool = nil
	return j.snapshotLocked()
}
