package render

import (
	"context"
	"encoding/json"

	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/template"
)

// Exec adapts Apply to the worker pool contract. It serves as the
// ExecFunc of the thread strategy and as the body of the hidden worker
// subcommand the process strategy spawns.
func Exec(_ context.Context, t pool.Task) pool.Result {
	var cfg template.Config
	if err := json.Unmarshal(t.Template, &cfg); err != nil {
		return pool.Result{Out: t.Dst, Err: "invalid template: " + err.Error()}
	}
	if err := Apply(t.Src, t.Dst, cfg, t.Format, t.Quality); err != nil {
		return pool.Result{Out: t.Dst, Err: err.Error()}
	}
	return pool.Result{Out: t.Dst}
}
