package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/pipeline"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

type oneWindowRunner struct{}

func (oneWindowRunner) Run(ctx context.Context, inputPath, language string, out pipeline.Sink) (*types.ResultLog, error) {
	seg := types.Segment{Start: 0, End: 2, Text: "hello there"}
	out.Publish(types.Event{Type: types.EventSegment, Segment: &seg})
	log := &types.ResultLog{Windows: []types.WindowResult{{Index: 0, Language: language, Segments: []types.Segment{seg}}}}
	out.Publish(types.Event{Type: types.EventDone, Windows: 1})
	return log, nil
}

type testEnv struct {
	app      *fiber.App
	pool     *queue.WorkerPool
	db       *storage.MetadataDB
	settings Settings
	gdrive   *GDriveHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.NewMetadataDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	results := storage.NewResultStore()
	ls := storage.NewLocalStorage(filepath.Join(dir, "outputs"), results)
	pool := queue.NewWorkerPool(queue.Options{}, oneWindowRunner{}, ls, nil, db, logger.Nop())
	pool.Start()
	t.Cleanup(pool.Stop)

	settings := Settings{TempDir: dir, Language: "en", MaxSizeMB: 1}
	log := logger.Nop()

	stream := NewStreamHandler(pool, log)
	jobs := NewJobsHandler(pool, db, results)
	gdrive := NewGDriveHandler(pool, settings, log)

	app := fiber.New()
	app.Post("/upload", NewUploadHandler(pool, settings, log).Handle)
	app.Post("/gdrive", gdrive.Handle)
	app.Post("/youtube", NewYouTubeHandler(pool, settings, log).Handle)
	app.Get("/ws/jobs/:id", stream.Upgrade, websocket.New(stream.Handle))
	app.Get("/jobs/:id", jobs.Status)
	app.Post("/jobs/:id/cancel", jobs.Cancel)
	app.Get("/transcripts", jobs.List)
	app.Get("/transcripts/:id/text", jobs.Text)
	app.Get("/transcripts/:id/result", jobs.Result)

	return &testEnv{app: app, pool: pool, db: db, settings: settings, gdrive: gdrive}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any, string) {
	t.Helper()
	resp, err := e.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var m map[string]any
	json.Unmarshal(body, &m)
	return resp.StatusCode, m, string(body)
}

func uploadRequest(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("fake audio"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func waitCompleted(t *testing.T, pool *queue.WorkerPool, id string) {
	t.Helper()
	waitStatus(t, pool, id, types.StatusCompleted)
}

func waitStatus(t *testing.T, pool *queue.WorkerPool, id, want string) {
	t.Helper()
	job, ok := pool.Get(id)
	if !ok {
		t.Fatalf("job %s not registered", id)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s status = %s, want %s", id, job.Status(), want)
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		filename string
		code     string
	}{
		{"no file", "", "ERR_NO_FILE"},
		{"bad format", "notes.pdf", "ERR_INVALID_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, _ := env.do(t, uploadRequest(t, tt.filename, nil))
			if status != fiber.StatusBadRequest || body["code"] != tt.code {
				t.Errorf("got %d %v, want 400 %s", status, body, tt.code)
			}
		})
	}
}

func TestUploadRunsJob(t *testing.T) {
	env := newTestEnv(t)

	status, body, raw := env.do(t, uploadRequest(t, "talk.mp3", map[string]string{"name": "talk", "language": "de"}))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, body = %s", status, raw)
	}
	id, _ := body["job_id"].(string)
	if body["events"] != "/ws/jobs/"+id {
		t.Errorf("events = %v", body["events"])
	}

	waitCompleted(t, env.pool, id)

	status, body, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	if status != fiber.StatusOK || body["status"] != types.StatusCompleted || body["language"] != "de" {
		t.Errorf("job status = %d %v", status, body)
	}

	status, _, text := env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts/"+id+"/text", nil))
	if status != fiber.StatusOK || !strings.Contains(text, "[00:00:00-00:00:02] hello there") {
		t.Errorf("text = %d %q", status, text)
	}

	status, body, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts/"+id+"/result", nil))
	if windows, _ := body["windows"].([]any); status != fiber.StatusOK || len(windows) != 1 {
		t.Errorf("result = %d %v", status, body)
	}

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/transcripts", nil))
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0]["job_id"] != id {
		t.Errorf("list = %v", list)
	}

	// finished jobs cannot be cancelled
	status, body, _ = env.do(t, httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/cancel", nil))
	if status != fiber.StatusConflict {
		t.Errorf("cancel finished job = %d %v", status, body)
	}
}

func TestJobsNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/jobs/missing", nil),
		httptest.NewRequest(http.MethodPost, "/jobs/missing/cancel", nil),
		httptest.NewRequest(http.MethodGet, "/transcripts/missing/text", nil),
		httptest.NewRequest(http.MethodGet, "/transcripts/missing/result", nil),
	} {
		if status, _, _ := env.do(t, req); status != fiber.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", req.Method, req.URL.Path, status)
		}
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)

	status, body, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/ws/jobs/missing", nil))
	if status != fiber.StatusUpgradeRequired || body["code"] != "ERR_UPGRADE_REQUIRED" {
		t.Errorf("got %d %v", status, body)
	}
}

func TestGDriveDownload(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/private") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("audio bytes"))
	}))
	defer srv.Close()
	env.gdrive.downloadURL = srv.URL + "/%s"

	status, body, raw := env.do(t, jsonRequest(http.MethodPost, "/gdrive",
		`{"url": "https://drive.google.com/file/d/abc123/view", "name": "meeting"}`))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, body = %s", status, raw)
	}
	waitCompleted(t, env.pool, body["job_id"].(string))

	status, body, _ = env.do(t, jsonRequest(http.MethodPost, "/gdrive",
		`{"url": "https://drive.google.com/open?id=private"}`))
	if status != fiber.StatusBadRequest || body["code"] != "ERR_FILE_NOT_ACCESSIBLE" {
		t.Errorf("private file = %d %v", status, body)
	}
}

func TestGDriveValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		body string
		code string
	}{
		{`{`, "ERR_INVALID_BODY"},
		{`{"url": ""}`, "ERR_NO_URL"},
		{`{"url": "https://example.com/x"}`, "ERR_INVALID_URL"},
	}
	for _, tt := range tests {
		status, body, _ := env.do(t, jsonRequest(http.MethodPost, "/gdrive", tt.body))
		if status != fiber.StatusBadRequest || body["code"] != tt.code {
			t.Errorf("%s: got %d %v, want %s", tt.body, status, body, tt.code)
		}
	}
}

func TestExtractGDriveFileID(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://drive.google.com/file/d/1AbC_d-E/view?usp=sharing", "1AbC_d-E"},
		{"https://drive.google.com/open?id=XyZ123", "XyZ123"},
		{"https://drive.google.com/uc?export=download&id=XyZ123", "XyZ123"},
		{strings.Repeat("a", 33), strings.Repeat("a", 33)},
		{"https://example.com", ""},
	}
	for _, tt := range tests {
		if got := extractGDriveFileID(tt.url); got != tt.want {
			t.Errorf("extractGDriveFileID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestYouTubeValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"url": ""}`, `{"url": "https://vimeo.com/1"}`} {
		status, _, raw := env.do(t, jsonRequest(http.MethodPost, "/youtube", body))
		if status != fiber.StatusBadRequest {
			t.Errorf("%s: status = %d, body = %s", body, status, raw)
		}
	}
}

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://youtu.be/abc", true},
		{"http://m.youtube.com/watch?v=abc", true},
		{"ftp://youtube.com/abc", false},
		{"https://youtube.com.evil.net/watch", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		if got := isYouTubeURL(tt.url); got != tt.want {
			t.Errorf("isYouTubeURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestYouTubeCaptureEnqueues(t *testing.T) {
	env := newTestEnv(t)

	// fake yt-dlp writes the output file named by -o
	script := filepath.Join(t.TempDir(), "yt-dlp")
	writeScript(t, script, `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then shift; echo audio > "$1"; fi
  shift
done
`)

	release := make(chan struct{})
	h := NewYouTubeHandler(env.pool, env.settings, logger.Nop())
	h.ytDlp = script
	h.lookupTitle = func(ctx context.Context, url string) (string, error) {
		<-release
		return "Video Title", nil
	}

	job := h.capture("yt-job", YouTubeRequest{URL: "https://youtu.be/abc"}, filepath.Join(env.settings.TempDir, "yt-job.opus"))

	// visible while the download is still running
	got, ok := env.pool.Get("yt-job")
	if !ok || got != job {
		t.Fatal("capturing job is not registered")
	}
	if snap := job.Snapshot(); snap.Status != types.StatusCapturing || snap.RequestName != "youtube_video" || snap.Language != "en" {
		t.Errorf("snapshot while capturing = %+v", snap)
	}
	if rec, err := env.db.GetTranscript("yt-job"); err != nil || rec.Status != types.StatusCapturing {
		t.Errorf("GetTranscript() = %+v, %v", rec, err)
	}

	close(release)
	waitCompleted(t, env.pool, "yt-job")
	if job.Name() != "Video Title" || job.Language != "en" {
		t.Errorf("job = %s / %s", job.Name(), job.Language)
	}
}

func TestYouTubeCaptureFailure(t *testing.T) {
	env := newTestEnv(t)

	h := NewYouTubeHandler(env.pool, env.settings, logger.Nop())
	h.ytDlp = filepath.Join(t.TempDir(), "missing-yt-dlp")
	h.lookupTitle = func(ctx context.Context, url string) (string, error) { return "", fmt.Errorf("no chrome") }

	job := h.capture("yt-fail", YouTubeRequest{URL: "https://youtu.be/abc", Language: "de"}, filepath.Join(env.settings.TempDir, "x.opus"))
	waitStatus(t, env.pool, "yt-fail", types.StatusFailed)

	snap := job.Snapshot()
	if snap.Error == "" || snap.Language != "de" || snap.RequestName != "youtube_video" {
		t.Errorf("snapshot = %+v", snap)
	}

	// subscribers of a failed capture see the stream end at once
	sink := job.Events.Subscribe()
	select {
	case _, open := <-sink.Events():
		if open {
			t.Error("event stream still open after failed capture")
		}
	case <-time.After(time.Second):
		t.Error("event stream not closed")
	}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}
