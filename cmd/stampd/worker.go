package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/render"
)

// applyCmd is the hidden entry point the process executor spawns, one
// child per file. It reads a task as JSON on stdin and writes the result
// as JSON on stdout. Render failures are reported inside the result so
// the parent counts them per file; the exit code only reflects broken
// plumbing.
var applyCmd = &cobra.Command{
	Use:    "_apply",
	Short:  "internal worker command",
	Hidden: true,
	RunE:   doApply,
}

func doApply(cmd *cobra.Command, args []string) error {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}
	var t pool.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	res := render.Exec(cmd.Context(), t)
	return json.NewEncoder(os.Stdout).Encode(res)
}
