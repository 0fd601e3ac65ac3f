package job

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/browser"
)

// run drives one job from start to its terminal state. It is the only
// goroutine writing the job's counters. events is sized to hold every
// event the run can produce, so sends never block on a slow or absent
// observer, and it is closed here after the done event.
func (m *Manager) run(j *Job, p Params, events chan Event) {
	j.begin()
	total := len(p.Files)
	events <- startEvent(total)

	m.processFiles(j, p, events)

	snap := j.finish()
	payload := DonePayload{
		JobID:     snap.ID,
		Processed: snap.Done,
		OutDir:    snap.OutDir,
		Errors:    snap.Errors,
		Cancelled: snap.State == StateCancelled,
	}
	events <- doneEvent(payload)
	close(events)

	slog.Info("job finished",
		"job_id", snap.ID,
		"state", snap.State,
		"done", snap.Done,
		"errors", snap.Errors,
	)

	if p.OpenWhenDone && !payload.Cancelled {
		if err := browser.OpenFile(snap.OutDir); err != nil {
			slog.Warn("open output dir", "job_id", snap.ID, "error", err)
		}
	}
	if m.hook != nil {
		m.hook.Send(context.Background(), payload)
	}
}

// processFiles feeds every file through the pool and folds the outcomes
// into the job. A panic here still lets the caller reach the terminal
// state; the deferred Close releases the pool's workers on that path.
func (m *Manager) processFiles(j *Job, p Params, events chan<- Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job runner panic", "job_id", j.ID(), "panic", r)
		}
	}()

	pl := m.factory(len(p.Files))
	defer pl.Close()
	j.attachPool(pl)
	total := len(p.Files)

	for _, f := range p.Files {
		if j.CancelRequested() {
			break
		}
		dst := filepath.Join(p.OutDir, f.Rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			slog.Warn("create output subdir", "job_id", j.ID(), "path", dst, "error", err)
			events <- progressEvent(j.record(true), total)
			continue
		}
		if !p.Overwrite {
			if _, err := os.Stat(dst); err == nil {
				// Already produced earlier; counts as done without
				// touching the file.
				events <- progressEvent(j.record(false), total)
				continue
			}
		}
		pl.Submit(task(f, dst, p))
	}

	// No more submissions. Tasks dropped by a cancel deliver nothing;
	// everything that started keeps running and is counted below.
	pl.Close()
	for res := range pl.Results() {
		failed := res.Err != ""
		if failed {
			slog.Warn("file failed", "job_id", j.ID(), "error", res.Err)
		}
		events <- progressEvent(j.record(failed), total)
	}
}
