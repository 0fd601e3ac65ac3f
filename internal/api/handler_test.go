package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stampd/stampd/internal/config"
	"github.com/stampd/stampd/internal/job"
	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/render"
	"github.com/stampd/stampd/internal/template"
)

// testConfig returns a minimal config suitable for handler tests.
func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		APIKeys:  []string{"test-api-key"},
		StoreDir: t.TempDir(),
		Executor: config.ExecutorThread,
	}
}

// newTestServer builds an httptest.Server with a real template store, job
// registry, manager and thread pool, wrapped with auth like production.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := template.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := testConfig(t)
	factory := pool.ThreadFactory(2, render.Exec)
	registry := job.NewRegistry(time.Hour)
	manager := job.NewManager(registry, factory, nil)
	h := NewHandler(store, registry, manager, factory, cfg)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(Chain(mux, Auth(cfg.APIKeys)))
	t.Cleanup(srv.Close)
	return srv
}

func apiKey() string { return "test-api-key" }

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body []byte, withAuth bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withAuth {
		req.Header.Set("X-API-Key", apiKey())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do request: %v", err)
	}
	return resp
}

func doForm(t *testing.T, srv *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", apiKey())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do request: %v", err)
	}
	return resp
}

func doMultipart(t *testing.T, srv *httptest.Server, path string, fields map[string]string, files map[string][]byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField %s: %v", k, err)
		}
	}
	for field, content := range files {
		name := field + ".png"
		if field == "font_file" {
			name = field + ".ttf"
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile %s: %v", field, err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write file field %s: %v", field, err)
		}
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", apiKey())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 30, G: 60, B: 90, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// seedInput writes n small PNGs into a fresh directory.
func seedInput(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("photo-%d.png", i))
		if err := os.WriteFile(path, pngBytes(t, 32, 24), 0o644); err != nil {
			t.Fatalf("write input image: %v", err)
		}
	}
	return dir
}

// seedTemplate stores a small text template through the API.
func seedTemplate(t *testing.T, srv *httptest.Server, name string) {
	t.Helper()
	resp := doMultipart(t, srv, "/api/v1/templates", map[string]string{
		"name": name,
		"type": "text",
		"text": "sample",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed template: status = %d, want 200", resp.StatusCode)
	}
}

type jobStatus struct {
	ID     string `json:"job_id"`
	State  string `json:"state"`
	Total  int    `json:"total"`
	Done   int    `json:"done"`
	Errors int    `json:"errors"`
	OutDir string `json:"out_dir"`
}

func getJob(t *testing.T, srv *httptest.Server, id string) (jobStatus, int) {
	t.Helper()
	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+id, nil, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jobStatus{}, resp.StatusCode
	}
	var js jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		t.Fatalf("decode job status: %v", err)
	}
	return js, resp.StatusCode
}

func waitForTerminal(t *testing.T, srv *httptest.Server, id string) jobStatus {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		js, code := getJob(t, srv, id)
		if code != http.StatusOK {
			t.Fatalf("poll status = %d, want 200", code)
		}
		if js.State == "done" || js.State == "cancelled" {
			return js
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never finished (state %s, %d/%d)", id, js.State, js.Done, js.Total)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHealth_Returns200(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil, false)
	body := decodeBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestAuth_NoAPIKey_Returns401(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", []byte(`{}`), false)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestTemplates_CRUD(t *testing.T) {
	srv := newTestServer(t)

	// Create with defaults.
	resp := doMultipart(t, srv, "/api/v1/templates", map[string]string{"name": "crud"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["saved"] != "crud" {
		t.Errorf("saved = %v, want crud", body["saved"])
	}
	tpl, ok := body["template"].(map[string]any)
	if !ok {
		t.Fatalf("template missing from response: %v", body)
	}
	if tpl["type"] != "text" || tpl["text"] != "WATERMARK" {
		t.Errorf("template defaults = %v", tpl)
	}
	if tpl["margin"] != float64(16) || tpl["tile_gap"] != float64(80) {
		t.Errorf("template margins = %v/%v, want 16/80", tpl["margin"], tpl["tile_gap"])
	}

	// List includes it.
	listResp := doRequest(t, srv, http.MethodGet, "/api/v1/templates", nil, true)
	all := decodeBody(t, listResp)
	if _, ok := all["crud"]; !ok {
		t.Errorf("list does not contain crud: %v", all)
	}

	// Delete it, twice.
	delResp := doRequest(t, srv, http.MethodDelete, "/api/v1/templates/crud", nil, true)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d, want 200", delResp.StatusCode)
	}
	delAgain := doRequest(t, srv, http.MethodDelete, "/api/v1/templates/crud", nil, true)
	delAgain.Body.Close()
	if delAgain.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", delAgain.StatusCode)
	}
}

func TestTemplates_UpdateKeepsUploadedImage(t *testing.T) {
	srv := newTestServer(t)

	resp := doMultipart(t, srv, "/api/v1/templates",
		map[string]string{"name": "logo", "type": "image"},
		map[string][]byte{"watermark_image": pngBytes(t, 8, 8)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, want 200", resp.StatusCode)
	}
	created := decodeBody(t, resp)
	imagePath, _ := created["template"].(map[string]any)["image_path"].(string)
	if imagePath == "" {
		t.Fatal("image_path missing after upload")
	}
	if _, err := os.Stat(imagePath); err != nil {
		t.Fatalf("uploaded image not on disk: %v", err)
	}

	// Update without re-uploading keeps the stored image.
	resp2 := doMultipart(t, srv, "/api/v1/templates",
		map[string]string{"name": "logo", "type": "image", "opacity": "0.5"}, nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("update: status = %d, want 200", resp2.StatusCode)
	}
	updated := decodeBody(t, resp2)
	tpl := updated["template"].(map[string]any)
	if tpl["image_path"] != imagePath {
		t.Errorf("image_path = %v, want %q preserved", tpl["image_path"], imagePath)
	}
	if tpl["opacity"] != 0.5 {
		t.Errorf("opacity = %v, want 0.5", tpl["opacity"])
	}
}

func TestTemplates_ImageWithoutUpload_Returns400(t *testing.T) {
	srv := newTestServer(t)

	resp := doMultipart(t, srv, "/api/v1/templates",
		map[string]string{"name": "noimg", "type": "image"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTemplates_InvalidName_Returns400(t *testing.T) {
	srv := newTestServer(t)

	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		resp := doMultipart(t, srv, "/api/v1/templates", map[string]string{"name": name}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("name %q: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestStartJob_RunsToCompletion(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 3)
	outDir := filepath.Join(t.TempDir(), "out")

	body, _ := json.Marshal(map[string]any{
		"input_dir":     inputDir,
		"output_dir":    outDir,
		"template_name": "mark",
	})
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	created := decodeBody(t, resp)
	id, _ := created["job_id"].(string)
	if id == "" {
		t.Fatal("response body missing job_id")
	}
	if created["total"] != float64(3) {
		t.Errorf("total = %v, want 3", created["total"])
	}

	js := waitForTerminal(t, srv, id)
	if js.State != "done" || js.Done != 3 || js.Errors != 0 {
		t.Fatalf("final status = %+v", js)
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(filepath.Join(outDir, fmt.Sprintf("photo-%d.png", i))); err != nil {
			t.Errorf("missing output %d: %v", i, err)
		}
	}
}

func TestStartJob_CorruptFileCounted(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 2)
	if err := os.WriteFile(filepath.Join(inputDir, "broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "out")

	body, _ := json.Marshal(map[string]any{
		"input_dir":     inputDir,
		"output_dir":    outDir,
		"template_name": "mark",
	})
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
	created := decodeBody(t, resp)
	id := created["job_id"].(string)

	js := waitForTerminal(t, srv, id)
	if js.State != "done" || js.Done != 3 || js.Errors != 1 {
		t.Fatalf("final status = %+v, want done 3/1 errors", js)
	}
}

func TestStartJob_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 1)

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			name: "missing input dir",
			body: map[string]any{"input_dir": "/does/not/exist", "output_dir": "/tmp/out", "template_name": "mark"},
			want: "input_dir does not exist or is not a directory",
		},
		{
			name: "missing output dir",
			body: map[string]any{"input_dir": inputDir, "template_name": "mark"},
			want: "output_dir is required",
		},
		{
			name: "unknown template",
			body: map[string]any{"input_dir": inputDir, "output_dir": "/tmp/out", "template_name": "nope"},
			want: "template not found",
		},
		{
			name: "empty input dir",
			body: map[string]any{"input_dir": t.TempDir(), "output_dir": "/tmp/out", "template_name": "mark"},
			want: "no images found in input_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
			got := decodeBody(t, resp)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if got["error"] != tt.want {
				t.Errorf("error = %v, want %q", got["error"], tt.want)
			}
		})
	}
}

func TestStartJob_DuplicateID_Returns409(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 1)

	body, _ := json.Marshal(map[string]any{
		"input_dir":     inputDir,
		"output_dir":    filepath.Join(t.TempDir(), "out"),
		"template_name": "mark",
		"job_id":        "fixed-post-1",
	})
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
	created := decodeBody(t, resp)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if created["job_id"] != "fixed-post-1" {
		t.Fatalf("job_id = %v, want fixed-post-1", created["job_id"])
	}
	waitForTerminal(t, srv, "fixed-post-1")

	body, _ = json.Marshal(map[string]any{
		"input_dir":     inputDir,
		"output_dir":    filepath.Join(t.TempDir(), "out2"),
		"template_name": "mark",
		"job_id":        "fixed-post-1",
	})
	resp = doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
	got := decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if got["error"] != "job id already exists" {
		t.Errorf("error = %v, want duplicate id message", got["error"])
	}
}

func TestStartJob_InvalidJSON_Returns400(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", []byte("{nope"), true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJob_NotFound_NoSideEffects(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/does-not-exist", nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	// The miss must not have registered anything.
	listResp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs", nil, true)
	list := decodeBody(t, listResp)
	if list["count"] != float64(0) {
		t.Errorf("job count after miss = %v, want 0", list["count"])
	}
}

func TestListJobs_NewestFirst(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 1)

	var ids []string
	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(map[string]any{
			"input_dir":     inputDir,
			"output_dir":    filepath.Join(t.TempDir(), "out"),
			"template_name": "mark",
		})
		resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
		created := decodeBody(t, resp)
		id := created["job_id"].(string)
		ids = append(ids, id)
		waitForTerminal(t, srv, id)
	}

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs", nil, true)
	list := decodeBody(t, resp)
	if list["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", list["count"])
	}
	jobs := list["jobs"].([]any)
	first := jobs[0].(map[string]any)
	if first["job_id"] != ids[1] {
		t.Errorf("first listed = %v, want newest %s", first["job_id"], ids[1])
	}
}

func TestCancelJob_NotFound_Returns404(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs/missing/cancel", nil, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelJob_Finished_Returns409(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 1)

	body, _ := json.Marshal(map[string]any{
		"input_dir":     inputDir,
		"output_dir":    filepath.Join(t.TempDir(), "out"),
		"template_name": "mark",
	})
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs", body, true)
	created := decodeBody(t, resp)
	id := created["job_id"].(string)
	waitForTerminal(t, srv, id)

	cancelResp := doRequest(t, srv, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, true)
	defer cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", cancelResp.StatusCode)
	}
}

// sseEvent is one parsed server-sent event frame.
type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var evs []sseEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			if rest, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = rest
			}
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				if err := json.Unmarshal([]byte(rest), &ev.data); err != nil {
					t.Fatalf("bad event data %q: %v", rest, err)
				}
			}
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestStreamJob_EmitsLifecycle(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 2)
	outDir := filepath.Join(t.TempDir(), "out")

	q := url.Values{}
	q.Set("input_dir", inputDir)
	q.Set("output_dir", outDir)
	q.Set("template_name", "mark")
	q.Set("job_id", "stream-test-1")

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/stream?"+q.Encode(), nil, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	evs := parseSSE(t, string(raw))
	if len(evs) != 4 {
		t.Fatalf("got %d events, want 4 (start, 2 progress, done): %+v", len(evs), evs)
	}
	if evs[0].name != "start" || evs[0].data["total"] != float64(2) {
		t.Fatalf("first event = %+v", evs[0])
	}
	for _, ev := range evs[1:3] {
		if ev.name != "progress" {
			t.Fatalf("middle event = %q, want progress", ev.name)
		}
	}
	last := evs[len(evs)-1]
	if last.name != "done" {
		t.Fatalf("last event = %q, want done", last.name)
	}
	if last.data["processed"] != float64(2) || last.data["cancelled"] != false {
		t.Fatalf("done payload = %v", last.data)
	}

	// The job stays visible to the poll API afterwards.
	js, code := getJob(t, srv, "stream-test-1")
	if code != http.StatusOK || js.State != "done" || js.Done != 2 {
		t.Fatalf("post-stream status = %+v (code %d)", js, code)
	}
}

func TestStreamJob_DuplicateID_Returns409(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 1)

	q := url.Values{}
	q.Set("input_dir", inputDir)
	q.Set("output_dir", filepath.Join(t.TempDir(), "out"))
	q.Set("template_name", "mark")
	q.Set("job_id", "dup-1")

	first := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/stream?"+q.Encode(), nil, true)
	io.Copy(io.Discard, first.Body) //nolint:errcheck
	first.Body.Close()

	second := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/stream?"+q.Encode(), nil, true)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.StatusCode)
	}
}

func TestStreamJob_BadInput_Returns400(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/stream?input_dir=/does/not/exist", nil, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPreview_ReturnsPNG(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 2)

	form := url.Values{}
	form.Set("input_dir", inputDir)
	form.Set("template_name", "mark")
	resp := doForm(t, srv, "/api/v1/preview", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png", ct)
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
}

func TestPreview_InlineTemplate(t *testing.T) {
	srv := newTestServer(t)
	inputDir := seedInput(t, 1)

	form := url.Values{}
	form.Set("input_dir", inputDir)
	form.Set("inline_template", `{"type":"text","text":"inline","position":"center"}`)
	resp := doForm(t, srv, "/api/v1/preview", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
}

func TestPreview_RequiresTemplate(t *testing.T) {
	srv := newTestServer(t)
	inputDir := seedInput(t, 1)

	form := url.Values{}
	form.Set("input_dir", inputDir)
	resp := doForm(t, srv, "/api/v1/preview", form)
	body := decodeBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "provide template_name or inline_template" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestPreview_BadInlineJSON_Returns400(t *testing.T) {
	srv := newTestServer(t)
	inputDir := seedInput(t, 1)

	form := url.Values{}
	form.Set("input_dir", inputDir)
	form.Set("inline_template", "{broken")
	resp := doForm(t, srv, "/api/v1/preview", form)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestArchive_ReturnsZip(t *testing.T) {
	srv := newTestServer(t)
	seedTemplate(t, srv, "mark")
	inputDir := seedInput(t, 3)

	form := url.Values{}
	form.Set("input_dir", inputDir)
	form.Set("template_name", "mark")
	resp := doForm(t, srv, "/api/v1/archive", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("Content-Type = %q, want application/zip", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "watermarked_") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("zip holds %d files, want 3", len(zr.File))
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for i := 0; i < 3; i++ {
		if !names[fmt.Sprintf("photo-%d.png", i)] {
			t.Errorf("zip missing photo-%d.png (have %v)", i, names)
		}
	}
}

func TestFrontend_Served(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/", nil, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "stampd") {
		t.Error("frontend page does not mention stampd")
	}
}
