package job

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/walk"
	"github.com/stampd/stampd/internal/webhook"
)

// Params describes one batch run. Files and OutDir are already validated
// by the caller; the manager only executes.
type Params struct {
	// ID names the job. Empty means generate one.
	ID string
	// Files are the images to process, in walk order.
	Files []walk.File
	// OutDir is the root the output tree is written under.
	OutDir string
	// Template is the watermark template, kept encoded so process
	// workers can receive it as-is.
	Template json.RawMessage
	// Format forces the output encoding. Empty keeps each file's own.
	Format string
	// Quality applies to lossy formats. Zero or less means the default.
	Quality int
	// Overwrite replaces existing outputs instead of counting them done.
	Overwrite bool
	// OpenWhenDone opens the output directory after a successful run.
	OpenWhenDone bool
	// Stream marks jobs whose caller consumes the event channel. They
	// start in StateRunning; polled jobs start in StateQueued.
	Stream bool
}

func task(f walk.File, dst string, p Params) pool.Task {
	return pool.Task{
		Src:      f.Path,
		Dst:      dst,
		Template: p.Template,
		Format:   p.Format,
		Quality:  p.Quality,
	}
}

// Manager launches jobs onto the pool strategy chosen at startup and
// registers them for status lookups.
type Manager struct {
	reg     *Registry
	factory pool.Factory
	hook    *webhook.Sender
}

// NewManager binds the registry, the pool factory and an optional
// completion webhook. hook may be nil.
func NewManager(reg *Registry, factory pool.Factory, hook *webhook.Sender) *Manager {
	return &Manager{reg: reg, factory: factory, hook: hook}
}

// Launch registers a new job and starts its runner. The returned channel
// carries the full event sequence for this run and is buffered to hold
// all of it, so callers are free to abandon it at any point. A Params.ID
// already in use returns ErrDuplicateID with nothing registered.
func (m *Manager) Launch(p Params) (*Job, <-chan Event, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	initial := StateQueued
	if p.Stream {
		initial = StateRunning
	}
	j := New(id, len(p.Files), p.OutDir, initial)
	if err := m.reg.add(j); err != nil {
		return nil, nil, err
	}

	// start + one progress per file + done.
	events := make(chan Event, len(p.Files)+2)
	go m.run(j, p, events)
	return j, events, nil
}
