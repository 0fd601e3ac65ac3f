package api

import (
	"archive/zip"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/stampd/stampd/internal/config"
	"github.com/stampd/stampd/internal/job"
	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/render"
	"github.com/stampd/stampd/internal/template"
	"github.com/stampd/stampd/internal/walk"
)

//go:embed static/index.html
var frontendHTML []byte

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	templates template.Store
	registry  *job.Registry
	manager   *job.Manager
	factory   pool.Factory
	cfg       *config.Config
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(templates template.Store, registry *job.Registry, manager *job.Manager, factory pool.Factory, cfg *config.Config) *Handler {
	return &Handler{
		templates: templates,
		registry:  registry,
		manager:   manager,
		factory:   factory,
		cfg:       cfg,
	}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", h.ServeFrontend)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/templates", h.ListTemplates)
	mux.HandleFunc("POST /api/v1/templates", h.SaveTemplate)
	mux.HandleFunc("DELETE /api/v1/templates/{name}", h.DeleteTemplate)
	mux.HandleFunc("POST /api/v1/jobs", h.StartJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/v1/jobs/stream", h.StreamJob)
	mux.HandleFunc("POST /api/v1/preview", h.Preview)
	mux.HandleFunc("POST /api/v1/archive", h.Archive)
}

// ServeFrontend serves the embedded studio HTML.
func (h *Handler) ServeFrontend(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(frontendHTML) //nolint:errcheck
}

// Health handles GET /api/v1/health and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"executor":    h.cfg.Executor,
		"active_jobs": h.registry.Active(),
	})
}

// startRequest is the body of POST /api/v1/jobs. The stream endpoint
// builds the same struct from query parameters.
type startRequest struct {
	InputDir     string `json:"input_dir"`
	OutputDir    string `json:"output_dir"`
	TemplateName string `json:"template_name"`
	OutputFormat string `json:"output_format"`
	Quality      int    `json:"quality"`
	Overwrite    *bool  `json:"overwrite"`
	OpenWhenDone bool   `json:"open_when_done"`
	JobID        string `json:"job_id"`
}

// resolveStart validates a start request and assembles run parameters.
// On failure it returns the HTTP status and error message to send.
func (h *Handler) resolveStart(ctx context.Context, req startRequest) (job.Params, int, string) {
	files, err := walk.Images(req.InputDir)
	if err != nil {
		return job.Params{}, http.StatusBadRequest, "input_dir does not exist or is not a directory"
	}
	if req.OutputDir == "" {
		return job.Params{}, http.StatusBadRequest, "output_dir is required"
	}
	cfg, err := h.templates.Get(ctx, strings.TrimSpace(req.TemplateName))
	if err != nil {
		return job.Params{}, http.StatusInternalServerError, "failed to load template"
	}
	if cfg == nil {
		return job.Params{}, http.StatusBadRequest, "template not found"
	}
	if len(files) == 0 {
		return job.Params{}, http.StatusBadRequest, "no images found in input_dir"
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return job.Params{}, http.StatusInternalServerError, "failed to encode template"
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return job.Params{}, http.StatusInternalServerError, "failed to create output directory"
	}

	quality := req.Quality
	if quality == 0 {
		quality = 90
	}
	overwrite := true
	if req.Overwrite != nil {
		overwrite = *req.Overwrite
	}
	return job.Params{
		Files:        files,
		OutDir:       req.OutputDir,
		Template:     raw,
		Format:       req.OutputFormat,
		Quality:      quality,
		Overwrite:    overwrite,
		OpenWhenDone: req.OpenWhenDone,
	}, 0, ""
}

// StartJob handles POST /api/v1/jobs: it launches a polled job and
// responds 202 with the id to poll.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params, status, msg := h.resolveStart(r.Context(), req)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	params.ID = strings.TrimSpace(req.JobID)

	j, _, err := h.manager.Launch(params)
	if errors.Is(err, job.ErrDuplicateID) {
		writeError(w, http.StatusConflict, "job id already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID(),
		"total":  len(params.Files),
	})
}

// ListJobs handles GET /api/v1/jobs and responds 200 with recent jobs,
// newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	jobs := h.registry.List(limit)
	// Return an empty array instead of null when there are no jobs.
	if jobs == nil {
		jobs = []job.Snapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/{id} and responds 200 with a snapshot.
// Unknown ids are a plain 404; nothing is created as a side effect.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel. Cancelling is
// cooperative: queued files are dropped, files already processing finish
// and are counted. Repeating a cancel succeeds; cancelling a finished
// job is a conflict.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.RequestCancel(r.PathValue("id"))
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, job.ErrFinished):
		writeError(w, http.StatusConflict, "job already in terminal state")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "cancelling",
		"job":    snap,
	})
}

// ListTemplates handles GET /api/v1/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	all, err := h.templates.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

var templateNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,99}$`)

// SaveTemplate handles POST /api/v1/templates. The multipart form carries
// the template fields plus optional watermark_image and font_file
// uploads, stored under the store directory keyed by template name.
func (h *Handler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 50<<20) // uploads included
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	// The name becomes part of upload filenames, so keep it tame.
	if !templateNameRE.MatchString(name) {
		writeError(w, http.StatusBadRequest, "invalid template name")
		return
	}

	old, err := h.templates.Get(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	var cfg template.Config
	if old != nil {
		cfg = *old
	}

	cfg.Type = formString(r, "type", template.TypeText)
	cfg.Scale = formFloat(r, "scale", 0.2)
	cfg.Opacity = formFloat(r, "opacity", 0.25)
	cfg.Position = formString(r, "position", "bottom-right")
	cfg.Rotation = formFloat(r, "rotation", 0)
	cfg.Margin = formInt(r, "margin", 16)
	cfg.TileGap = formInt(r, "tile_gap", 80)

	if cfg.Type == template.TypeImage {
		path, status, msg := saveUpload(r, "watermark_image", h.cfg.ImagesDir(), name, walk.IsImage, "unsupported watermark image type")
		switch {
		case msg != "":
			writeError(w, status, msg)
			return
		case path != "":
			cfg.ImagePath = path
		case cfg.ImagePath == "":
			writeError(w, http.StatusBadRequest, "upload watermark_image for image template")
			return
		}
	} else {
		cfg.Text = formString(r, "text", "WATERMARK")
		cfg.TextColor = formString(r, "text_color", "#FFFFFF")

		path, status, msg := saveUpload(r, "font_file", h.cfg.FontsDir(), name, isFontFile, "unsupported font type")
		switch {
		case msg != "":
			writeError(w, status, msg)
			return
		case path != "":
			cfg.FontPath = path
		}
	}

	if err := h.templates.Save(r.Context(), name, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save template")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"saved":    name,
		"template": cfg,
	})
}

// DeleteTemplate handles DELETE /api/v1/templates/{name}.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := h.templates.Delete(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, template.ErrNotFound):
		writeError(w, http.StatusNotFound, "template not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// resolveTemplate loads a stored template by name or decodes an inline
// one. Exactly the preview and archive endpoints accept inline templates.
func (h *Handler) resolveTemplate(ctx context.Context, name, inline string) (*template.Config, int, string) {
	if name != "" {
		cfg, err := h.templates.Get(ctx, name)
		if err != nil {
			return nil, http.StatusInternalServerError, "failed to load template"
		}
		if cfg == nil {
			return nil, http.StatusBadRequest, fmt.Sprintf("template %q not found", name)
		}
		return cfg, 0, ""
	}
	if inline != "" {
		var cfg template.Config
		if err := json.Unmarshal([]byte(inline), &cfg); err != nil {
			return nil, http.StatusBadRequest, "inline_template must be valid JSON"
		}
		return &cfg, 0, ""
	}
	return nil, http.StatusBadRequest, "provide template_name or inline_template"
}

// Preview handles POST /api/v1/preview: it watermarks the first image of
// input_dir in-process and returns it as PNG without touching the input
// tree.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	files, err := walk.Images(r.FormValue("input_dir"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "input_dir does not exist or is not a directory")
		return
	}
	cfg, status, msg := h.resolveTemplate(r.Context(), r.FormValue("template_name"), r.FormValue("inline_template"))
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no images found in input_dir")
		return
	}

	workdir, err := os.MkdirTemp("", "stampd-preview-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workspace")
		return
	}
	defer os.RemoveAll(workdir)

	dst := filepath.Join(workdir, "preview.png")
	if err := render.Apply(files[0].Path, dst, *cfg, "PNG", 90); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read preview")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data) //nolint:errcheck
}

// Archive handles POST /api/v1/archive: it watermarks every image of
// input_dir into a scratch directory and streams the results back as one
// zip download. Files that fail are logged and left out of the archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	files, err := walk.Images(r.FormValue("input_dir"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "input_dir does not exist or is not a directory")
		return
	}
	cfg, status, msg := h.resolveTemplate(r.Context(), r.FormValue("template_name"), r.FormValue("inline_template"))
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no images found in input_dir")
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode template")
		return
	}

	workdir, err := os.MkdirTemp("", "stampd-archive-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workspace")
		return
	}
	defer os.RemoveAll(workdir)
	outRoot := filepath.Join(workdir, "out")

	format := r.FormValue("output_format")
	quality := parseIntParam(r.FormValue("quality"), 90)

	pl := h.factory(len(files))
	for _, f := range files {
		dst := filepath.Join(outRoot, f.Rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			slog.Warn("archive: create output subdir", "path", dst, "error", err)
			continue
		}
		pl.Submit(pool.Task{Src: f.Path, Dst: dst, Template: raw, Format: format, Quality: quality})
	}
	pl.Close()

	var outputs []string
	for res := range pl.Results() {
		if res.Err != "" {
			slog.Warn("archive: file failed", "error", res.Err)
			continue
		}
		outputs = append(outputs, res.Out)
	}

	filename := fmt.Sprintf("watermarked_%s.zip", strings.ReplaceAll(uuid.New().String(), "-", ""))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	zw := zip.NewWriter(w)
	for _, out := range outputs {
		rel, err := filepath.Rel(outRoot, out)
		if err != nil {
			continue
		}
		zf, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			slog.Warn("archive: add entry", "file", rel, "error", err)
			break
		}
		src, err := os.Open(out)
		if err != nil {
			slog.Warn("archive: open output", "file", rel, "error", err)
			continue
		}
		_, err = io.Copy(zf, src)
		src.Close()
		if err != nil {
			// The response is already half-written; nothing to do but stop.
			slog.Warn("archive: stream entry", "file", rel, "error", err)
			break
		}
	}
	if err := zw.Close(); err != nil {
		slog.Warn("archive: finish zip", "error", err)
	}
}

// saveUpload stores the named multipart file under dir as name+ext.
// It returns an empty path with no message when the field is absent.
func saveUpload(r *http.Request, field, dir, name string, allowed func(string) bool, typeErr string) (string, int, string) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", 0, ""
	}
	if err != nil {
		return "", http.StatusBadRequest, "invalid form data"
	}
	defer f.Close()

	if !allowed(hdr.Filename) {
		return "", http.StatusBadRequest, typeErr
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", http.StatusInternalServerError, "failed to store upload"
	}
	dest := filepath.Join(dir, name+strings.ToLower(filepath.Ext(hdr.Filename)))
	out, err := os.Create(dest)
	if err != nil {
		return "", http.StatusInternalServerError, "failed to store upload"
	}
	defer out.Close()
	if _, err := io.Copy(out, f); err != nil {
		return "", http.StatusInternalServerError, "failed to store upload"
	}
	return dest, 0, ""
}

func isFontFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ttf", ".otf", ".ttc":
		return true
	}
	return false
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBoolParam(s string, fallback bool) bool {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func formString(r *http.Request, field, fallback string) string {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return fallback
	}
	return v
}

func formFloat(r *http.Request, field string, fallback float64) float64 {
	v := r.FormValue(field)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func formInt(r *http.Request, field string, fallback int) int {
	return parseIntParam(r.FormValue(field), fallback)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
