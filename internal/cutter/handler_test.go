package cutter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"audio-cutter/internal/audio/audiotest"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, env testEnv, c *Controller) *chi.Mux {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	r := chi.NewRouter()
	NewHandler(c, env.store, log).Register(r)
	return r
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandler_CutLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset(t, "show.wav", 20)
	c := newTestController(t, env, nil)
	r := newTestRouter(t, env, c)

	rec := do(r, http.MethodPost, "/audio/cut/radio1/show.wav?startSeconds=5&durationSeconds=10")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[map[string]any](t, rec)
	assert.NotEmpty(t, started["jobId"])
	assert.Equal(t, "running", started["state"])
	outputFile, _ := started["outputFile"].(string)
	assert.Regexp(t, `^show_5-15_[0-9a-f]{8}\.wav$`, outputFile)

	waitJob(t, c)

	rec = do(r, http.MethodGet, "/audio/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	prog := decode[map[string]any](t, rec)
	assert.Equal(t, started["jobId"], prog["jobId"])
	assert.Equal(t, "completed", prog["state"])
	assert.EqualValues(t, 100, prog["progress"])
	assert.Equal(t, "radio1", prog["radioName"])
	assert.Equal(t, "show.wav", prog["fileName"])
	assert.Equal(t, outputFile, prog["outputFile"])

	rec = do(r, http.MethodGet, "/audio/list/cuts/radio1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{outputFile}, decode[[]string](t, rec))

	rec = do(r, http.MethodGet, "/audio/download/radio1/"+outputFile)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	want, err := os.ReadFile(filepath.Join(env.out, "radio1", outputFile))
	require.NoError(t, err)
	assert.Equal(t, want, rec.Body.Bytes())

	rec = do(r, http.MethodGet, "/audio/cuts/radio1/"+outputFile)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")

	rec = do(r, http.MethodDelete, "/audio/job")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[map[string]any](t, rec)["state"])
}

func TestHandler_PlaySupportsRanges(t *testing.T) {
	env := newTestEnv(t)
	path := audiotest.WriteWAV(t, filepath.Join(env.out, "radio1", "clip.wav"), audiotest.Mono8k, 1)
	r := newTestRouter(t, env, newTestController(t, env, nil))

	req := httptest.NewRequest(http.MethodGet, "/audio/cuts/radio1/clip.wav", nil)
	req.Header.Set("Range", "bytes=0-43")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	full, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, full[:44], rec.Body.Bytes())
}

func TestHandler_PlayAsset(t *testing.T) {
	env := newTestEnv(t)
	path := env.addAsset(t, "show.wav", 1)
	audiotest.WriteWAV(t, filepath.Join(env.out, "radio1", "clip.wav"), audiotest.Mono8k, 1)
	r := newTestRouter(t, env, newTestController(t, env, nil))

	rec := do(r, http.MethodGet, "/audio/assets/radio1/show.wav")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, rec.Body.Bytes())

	rec = do(r, http.MethodGet, "/audio/assets/radio1/clip.wav")
	assert.Equal(t, http.StatusNotFound, rec.Code, "cuts are not served as assets")
	rec = do(r, http.MethodGet, "/audio/assets/other/show.wav")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StartCutErrors(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset(t, "show.wav", 10)
	touch(t, filepath.Join(env.in, "radio1", "notes.txt"))
	r := newTestRouter(t, env, newTestController(t, env, nil))

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing start", "/audio/cut/radio1/show.wav?durationSeconds=1", http.StatusBadRequest},
		{"bad duration", "/audio/cut/radio1/show.wav?startSeconds=0&durationSeconds=abc", http.StatusBadRequest},
		{"negative start", "/audio/cut/radio1/show.wav?startSeconds=-2&durationSeconds=1", http.StatusBadRequest},
		{"zero duration", "/audio/cut/radio1/show.wav?startSeconds=0&durationSeconds=0", http.StatusBadRequest},
		{"missing file", "/audio/cut/radio1/nope.wav?startSeconds=0&durationSeconds=1", http.StatusNotFound},
		{"unsupported", "/audio/cut/radio1/notes.txt?startSeconds=0&durationSeconds=1", http.StatusUnsupportedMediaType},
		{"out of range", "/audio/cut/radio1/show.wav?startSeconds=60&durationSeconds=1", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, http.MethodPost, tt.target)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]any](t, rec)["error"])
		})
	}
}

func TestHandler_CommandsWithoutJob(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, newTestController(t, env, nil))

	for _, path := range []string{"/audio/pause", "/audio/resume", "/audio/cancel"} {
		rec := do(r, http.MethodPost, path)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}

	rec := do(r, http.MethodGet, "/audio/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[map[string]any](t, rec)["state"])
}

func TestHandler_PauseResumeCancel(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset(t, "show.wav", 10)
	c, gate := gatedController(t, env, testRate)
	r := newTestRouter(t, env, c)

	rec := do(r, http.MethodPost, "/audio/cut/radio1/show.wav?startSeconds=0&durationSeconds=10")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	<-gate.Entered()

	rec = do(r, http.MethodPost, "/audio/cut/radio1/show.wav?startSeconds=0&durationSeconds=1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(r, http.MethodPost, "/audio/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodPost, "/audio/resume")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodDelete, "/audio/job")
	assert.Equal(t, http.StatusConflict, rec.Code, "clear while running")

	rec = do(r, http.MethodPost, "/audio/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	gate.Open()

	assert.Equal(t, StateCancelled, waitJob(t, c).State)
	rec = do(r, http.MethodGet, "/audio/list/cuts/radio1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]string](t, rec))
}

func TestHandler_Listings(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset(t, "b.wav", 1)
	env.addAsset(t, "a.wav", 1)
	touch(t, filepath.Join(env.in, "other", "x.wav"))
	r := newTestRouter(t, env, newTestController(t, env, nil))

	rec := do(r, http.MethodGet, "/audio/list")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"other", "radio1"}, decode[[]string](t, rec))

	rec = do(r, http.MethodGet, "/audio/list/radio1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a.wav", "b.wav"}, decode[[]string](t, rec))

	rec = do(r, http.MethodGet, "/audio/list/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/audio/list/cuts/radio1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandler_DownloadMissing(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(t, env, newTestController(t, env, nil))

	rec := do(r, http.MethodGet, "/audio/download/radio1/nope.wav")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(ErrNotPaused))
	assert.Equal(t, http.StatusInternalServerError, statusFor(os.ErrPermission))
}
