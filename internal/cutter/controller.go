package cutter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"audio-cutter/internal/audio"
	"audio-cutter/internal/platform/metrics"

	"github.com/google/uuid"
)

// Controller owns the single cut job slot. StartCut launches the trim engine
// on its own goroutine; Pause, Resume and Cancel are requests that the engine
// honours at its next chunk boundary. All methods are safe for concurrent use.
type Controller struct {
	store   AssetStore
	sources audio.Opener
	sinks   audio.SinkFactory
	engine  *Engine
	log     *slog.Logger
	metrics *metrics.Metrics

	progress *Progress

	mu       sync.Mutex
	starting bool
	job      *Job
	signal   *Signal
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewController returns an idle Controller. m may be nil to disable metric
// recording (e.g. in tests).
func NewController(store AssetStore, sources audio.Opener, sinks audio.SinkFactory, engine *Engine, log *slog.Logger, m *metrics.Metrics) *Controller {
	if engine == nil {
		engine = NewEngine(DefaultChunkSeconds, 0, log)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		store:    store,
		sources:  sources,
		sinks:    sinks,
		engine:   engine,
		log:      log,
		metrics:  m,
		progress: NewProgress(),
	}
}

// StartCut validates req, opens the source and launches the cut. Validation,
// lookup and range errors are returned synchronously and leave the slot
// untouched. While another job is running or paused it returns ErrConflict.
func (c *Controller) StartCut(ctx context.Context, req CutRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}

	c.mu.Lock()
	if c.starting || c.progress.Load().State.Active() {
		c.mu.Unlock()
		return Job{}, ErrConflict
	}
	c.starting = true
	c.mu.Unlock()

	job, src, err := c.prepare(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return Job{}, err
	}

	sig := NewSignal()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.job, c.signal, c.cancel, c.done = &job, sig, cancel, done
	c.progress.reset(ProgressSnapshot{
		JobID:      job.ID,
		Radio:      req.Radio,
		Filename:   req.Filename,
		State:      StateRunning,
		OutputPath: job.OutputPath,
	})

	log := c.log.With(
		slog.String("job_id", job.ID),
		slog.String("radio", req.Radio),
		slog.String("file", req.Filename))
	log.Info("cut started",
		slog.Float64("start_seconds", req.StartSeconds),
		slog.Float64("duration_seconds", req.DurationSeconds),
		slog.String("output", job.OutputPath))
	if c.metrics != nil {
		c.metrics.IncJobsStarted()
	}

	go c.run(runCtx, cancel, done, job, src, sig, log)
	return job, nil
}

// prepare resolves and opens the input and reserves an output path.
func (c *Controller) prepare(ctx context.Context, req CutRequest) (Job, audio.Source, error) {
	input, err := c.store.ResolveAssetPath(req.Radio, req.Filename)
	if err != nil {
		return Job{}, nil, err
	}
	src, err := c.sources.Open(ctx, input)
	if err != nil {
		return Job{}, nil, err
	}
	total := src.Duration()
	if req.StartSeconds > total {
		src.Close()
		return Job{}, nil, fmt.Errorf("%w: start %.3fs, %s is %.3fs long", ErrOutOfRange, req.StartSeconds, req.Filename, total)
	}
	dir, err := c.store.EnsureOutputDirectory(req.Radio)
	if err != nil {
		src.Close()
		return Job{}, nil, err
	}

	// The name carries the window actually cut, not the requested one.
	named := req
	named.DurationSeconds = min(req.DurationSeconds, total-req.StartSeconds)

	id := uuid.NewString()
	return Job{
		ID:         id,
		Request:    req,
		InputPath:  input,
		OutputPath: filepath.Join(dir, CutFileName(req.Filename, named, id)),
		CreatedAt:  time.Now().UTC(),
	}, src, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, job Job, src audio.Source, sig *Signal, log *slog.Logger) {
	defer close(done)
	defer cancel()

	var res Result
	sink, err := c.sinks.Create(ctx, job.OutputPath, src.Format())
	if err != nil {
		src.Close()
		res = Result{State: StateFailed, Err: err}
	} else {
		w := Window{StartSeconds: job.Request.StartSeconds, DurationSeconds: job.Request.DurationSeconds}
		res = c.engine.withLogger(log).Run(ctx, w, src, sink, sig, c.progress)
	}

	snap := c.progress.update(func(s *ProgressSnapshot) {
		s.State = res.State
		if res.State == StateCompleted {
			s.Percent = 100
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
	})

	switch res.State {
	case StateFailed:
		log.Error("cut failed", slog.Int("progress", snap.Percent), slog.String("error", snap.Error))
	default:
		log.Info("cut "+string(res.State),
			slog.Int("progress", snap.Percent),
			slog.Float64("seconds_written", res.SecondsWritten))
	}
	if c.metrics != nil {
		c.metrics.ObserveJobFinished(string(res.State), res.SecondsWritten)
	}
}

// Progress returns the current snapshot. It never blocks on the running job.
func (c *Controller) Progress() ProgressSnapshot {
	return c.progress.Load()
}

// Current returns the job in the slot, if any.
func (c *Controller) Current() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Job{}, false
	}
	return *c.job, true
}

// Pause asks a running job to pause at its next chunk boundary. A job whose
// resume was accepted but not yet observed by the engine counts as running.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal == nil || !c.pausableLocked() || !c.signal.Pause() {
		c.countCommand("pause", ErrNoActiveJob)
		return ErrNoActiveJob
	}
	c.log.Debug("pause requested", slog.String("job_id", c.job.ID))
	c.countCommand("pause", nil)
	return nil
}

func (c *Controller) pausableLocked() bool {
	switch c.progress.Load().State {
	case StateRunning:
		return true
	case StatePaused:
		return !c.signal.PauseRequested()
	}
	return false
}

// Resume lifts a pause. A pause that was requested but not yet observed is
// withdrawn.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal == nil || !c.progress.Load().State.Active() || !c.signal.Resume() {
		c.countCommand("resume", ErrNotPaused)
		return ErrNotPaused
	}
	c.log.Debug("resume requested", slog.String("job_id", c.job.ID))
	c.countCommand("resume", nil)
	return nil
}

// Cancel asks a running or paused job to stop. A nil return guarantees the
// job ends cancelled with no output file.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signal == nil || !c.progress.Load().State.Active() || !c.signal.Cancel() {
		c.countCommand("cancel", ErrNoActiveJob)
		return ErrNoActiveJob
	}
	c.log.Debug("cancel requested", slog.String("job_id", c.job.ID))
	c.countCommand("cancel", nil)
	return nil
}

// Clear resets a finished job's slot to idle.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starting || c.progress.Load().State.Active() {
		return ErrConflict
	}
	c.job, c.signal, c.cancel, c.done = nil, nil, nil, nil
	c.progress.reset(ProgressSnapshot{State: StateIdle})
	return nil
}

// Wait blocks until the current job's goroutine has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels any in-flight job and waits for it to release its files.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.Wait(ctx)
}

func (c *Controller) countCommand(command string, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	c.metrics.IncCommand(command, result)
}
