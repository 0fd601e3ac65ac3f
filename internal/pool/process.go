package pool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Processes isolates each task in a child process: the pool re-executes
// the service binary with a hidden subcommand, writes the task as JSON to
// its stdin and reads the result back from its stdout. A crashing render
// takes down one task, not the service.
type Processes struct {
	bin     string
	args    []string
	width   int
	tasks   chan Task
	results chan Result
	skip    atomic.Bool
	once    sync.Once
}

// NewProcesses starts a dispatcher running at most width children of bin
// with args at a time.
func NewProcesses(capacity, width int, bin string, args ...string) *Processes {
	if capacity < 1 {
		capacity = 1
	}
	p := &Processes{
		bin:     bin,
		args:    args,
		width:   max(1, width),
		tasks:   make(chan Task, capacity),
		results: make(chan Result, capacity),
	}
	go p.dispatch()
	return p
}

func (p *Processes) Submit(t Task) {
	p.tasks <- t
}

func (p *Processes) Results() <-chan Result {
	return p.results
}

func (p *Processes) CancelPending() {
	p.skip.Store(true)
}

func (p *Processes) Close() {
	p.once.Do(func() { close(p.tasks) })
}

func (p *Processes) dispatch() {
	g := new(errgroup.Group)
	g.SetLimit(p.width)
	for t := range p.tasks {
		if p.skip.Load() {
			continue
		}
		g.Go(func() error {
			p.results <- p.runChild(t)
			return nil
		})
	}
	g.Wait()
	close(p.results)
}

// runChild executes one task in a subprocess. Every failure mode of the
// child (spawn error, non-zero exit, unparseable output) is folded into a
// per-task error result.
func (p *Processes) runChild(t Task) Result {
	payload, err := json.Marshal(t)
	if err != nil {
		return Result{Out: t.Dst, Err: fmt.Sprintf("encode task: %v", err)}
	}

	cmd := exec.Command(p.bin, p.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return Result{Out: t.Dst, Err: fmt.Sprintf("worker process: %v", err)}
		}
		return Result{Out: t.Dst, Err: fmt.Sprintf("worker process: %v: %s", err, detail)}
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{Out: t.Dst, Err: fmt.Sprintf("decode worker output: %v", err)}
	}
	return res
}

// ProcessFactory binds the process strategy with the given width. bin and
// args name the worker entry point, normally the service's own binary.
func ProcessFactory(width int, bin string, args ...string) Factory {
	return func(capacity int) Pool { return NewProcesses(capacity, width, bin, args...) }
}
