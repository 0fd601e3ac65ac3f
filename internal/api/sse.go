package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stampd/stampd/internal/job"
)

// StreamJob handles GET /api/v1/jobs/stream.
// It launches a job from the query parameters and streams its progress as
// server-sent events: one start event, one progress event per settled
// file, and a final done event. A client-supplied job_id lets the caller
// cancel the run from another connection.
func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	req := startRequest{
		InputDir:     q.Get("input_dir"),
		OutputDir:    q.Get("output_dir"),
		TemplateName: q.Get("template_name"),
		OutputFormat: q.Get("output_format"),
		Quality:      parseIntParam(q.Get("quality"), 90),
		OpenWhenDone: parseBoolParam(q.Get("open_when_done"), false),
		JobID:        q.Get("job_id"),
	}
	if v := q.Get("overwrite"); v != "" {
		b := parseBoolParam(v, true)
		req.Overwrite = &b
	}

	params, status, msg := h.resolveStart(r.Context(), req)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	params.ID = strings.TrimSpace(req.JobID)
	params.Stream = true

	_, events, err := h.manager.Launch(params)
	if errors.Is(err, job.ErrDuplicateID) {
		writeError(w, http.StatusConflict, "job id already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
		case <-r.Context().Done():
			// Client gone. The run keeps going; status polling and
			// cancellation still work against the same job id.
			return
		}
	}
}
