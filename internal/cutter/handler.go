package cutter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"audio-cutter/internal/audio"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the cutter over HTTP using go-chi.
type Handler struct {
	ctrl  *Controller
	store *FSAssetStore
	log   *slog.Logger
}

// NewHandler returns a Handler for the given Controller and store.
func NewHandler(ctrl *Controller, store *FSAssetStore, log *slog.Logger) *Handler {
	return &Handler{ctrl: ctrl, store: store, log: log}
}

// Register mounts the /audio routes on r. The limit middlewares wrap only the
// routes that start or steer a job.
func (h *Handler) Register(r chi.Router, limit ...func(http.Handler) http.Handler) {
	r.Route("/audio", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limit...)
			r.Post("/cut/{radio}/{fileName}", h.StartCut)
			r.Post("/pause", h.Pause)
			r.Post("/resume", h.Resume)
			r.Post("/cancel", h.Cancel)
			r.Delete("/job", h.Clear)
		})
		r.Get("/progress", h.Progress)
		r.Get("/list", h.ListRadios)
		r.Get("/list/{radio}", h.ListAssets)
		r.Get("/list/cuts/{radio}", h.ListCuts)
		r.Get("/download/{radio}/{fileName}", h.Download)
		r.Get("/cuts/{radio}/{fileName}", h.Play)
		r.Get("/assets/{radio}/{fileName}", h.PlayAsset)
	})
}

type startResponse struct {
	JobID      string `json:"jobId"`
	OutputFile string `json:"outputFile"`
	State      State  `json:"state"`
}

type progressResponse struct {
	ProgressSnapshot
	OutputFile string `json:"outputFile,omitempty"`
}

type stateResponse struct {
	State State `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StartCut handles POST /audio/cut/{radio}/{fileName}?startSeconds=&durationSeconds=.
func (h *Handler) StartCut(w http.ResponseWriter, r *http.Request) {
	req := CutRequest{
		Radio:    chi.URLParam(r, "radio"),
		Filename: chi.URLParam(r, "fileName"),
	}
	var err error
	if req.StartSeconds, err = queryFloat(r, "startSeconds"); err != nil {
		h.writeError(w, err)
		return
	}
	if req.DurationSeconds, err = queryFloat(r, "durationSeconds"); err != nil {
		h.writeError(w, err)
		return
	}

	job, err := h.ctrl.StartCut(r.Context(), req)
	if err != nil {
		h.log.Info("cut rejected",
			slog.String("radio", req.Radio),
			slog.String("file", req.Filename),
			slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		JobID:      job.ID,
		OutputFile: filepath.Base(job.OutputPath),
		State:      StateRunning,
	})
}

// Progress handles GET /audio/progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Progress()
	resp := progressResponse{ProgressSnapshot: snap}
	if snap.OutputPath != "" {
		resp.OutputFile = filepath.Base(snap.OutputPath)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Pause handles POST /audio/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.ctrl.Pause)
}

// Resume handles POST /audio/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.ctrl.Resume)
}

// Cancel handles POST /audio/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.ctrl.Cancel)
}

// Clear handles DELETE /audio/job.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.ctrl.Clear)
}

func (h *Handler) command(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: h.ctrl.Progress().State})
}

// ListRadios handles GET /audio/list.
func (h *Handler) ListRadios(w http.ResponseWriter, r *http.Request) {
	radios, err := h.store.ListRadios()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, radios)
}

// ListAssets handles GET /audio/list/{radio}.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListAssets(chi.URLParam(r, "radio"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// ListCuts handles GET /audio/list/cuts/{radio}.
func (h *Handler) ListCuts(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListCuts(chi.URLParam(r, "radio"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// Download handles GET /audio/download/{radio}/{fileName} and serves a cut as
// an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, h.store.ResolveCutPath, "attachment")
}

// Play handles GET /audio/cuts/{radio}/{fileName} and serves a cut inline so
// browsers can stream it with range requests.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, h.store.ResolveCutPath, "inline")
}

// PlayAsset handles GET /audio/assets/{radio}/{fileName} and serves a source
// asset inline for playback.
func (h *Handler) PlayAsset(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, h.store.ResolveAssetPath, "inline")
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, resolve func(radio, name string) (string, error), disposition string) {
	name := chi.URLParam(r, "fileName")
	path, err := resolve(chi.URLParam(r, "radio"), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// writeError maps err onto a status code and writes it as JSON. Unexpected
// errors are logged and their text is not exposed.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", msg))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNoActiveJob), errors.Is(err, ErrNotPaused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryFloat(r *http.Request, key string) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrValidation, key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrValidation, key, s)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
