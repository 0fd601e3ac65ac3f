package job

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound means no job with that id exists. Lookups never create
	// an entry as a side effect.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID means a job with that id is already registered.
	ErrDuplicateID = errors.New("job id already exists")
	// ErrFinished means the job already reached done and cannot be
	// cancelled anymore.
	ErrFinished = errors.New("job already finished")
)

// Registry holds every known job in memory. Jobs are ephemeral run state,
// not durable records; finished ones are swept out after a TTL.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (r *Registry) add(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID()]; ok {
		return ErrDuplicateID
	}
	r.jobs[j.ID()] = j
	return nil
}

// Get returns the job for id or ErrNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

// List returns snapshots newest first. limit <= 0 returns everything.
func (r *Registry) List(limit int) []Snapshot {
	r.mu.RLock()
	snaps := make([]Snapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		snaps = append(snaps, j.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, k int) bool {
		return snaps[i].CreatedAt.After(snaps[k].CreatedAt)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// RequestCancel asks the job to stop taking new work. Already cancelled
// or cancelling jobs report success again; done jobs return ErrFinished.
func (r *Registry) RequestCancel(id string) (Snapshot, error) {
	j, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if !j.requestCancel() {
		return j.Snapshot(), ErrFinished
	}
	return j.Snapshot(), nil
}

// Active counts jobs that have not reached a terminal state yet.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.jobs {
		if !j.Snapshot().State.Terminal() {
			n++
		}
	}
	return n
}

// Sweep drops terminal jobs older than the TTL and returns how many were
// removed. A zero TTL keeps everything.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		snap := j.Snapshot()
		if snap.State.Terminal() && snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > r.ttl {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(time.Now()); n > 0 {
					slog.Info("swept finished jobs", "removed", n)
				}
			}
		}
	}()
}
