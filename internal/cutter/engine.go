package cutter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"audio-cutter/internal/audio"
)

// DefaultChunkSeconds is the amount of audio processed between control checks
// and progress updates.
const DefaultChunkSeconds = 0.5

// Window is the requested cut in seconds from the start of the asset.
type Window struct {
	StartSeconds    float64
	DurationSeconds float64
}

// Result is the outcome of one engine run.
type Result struct {
	State          State
	Err            error
	SamplesWritten int64
	SecondsWritten float64
}

// Engine copies a window of frames from a Source to a Sink in chunks,
// honouring pause and cancel requests between chunks.
type Engine struct {
	chunkSeconds float64
	chunkTimeout time.Duration
	log          *slog.Logger
}

// NewEngine returns an Engine. chunkSeconds <= 0 selects DefaultChunkSeconds;
// chunkTimeout <= 0 disables the per-chunk decode deadline.
func NewEngine(chunkSeconds float64, chunkTimeout time.Duration, log *slog.Logger) *Engine {
	if chunkSeconds <= 0 {
		chunkSeconds = DefaultChunkSeconds
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{chunkSeconds: chunkSeconds, chunkTimeout: chunkTimeout, log: log}
}

func (e *Engine) withLogger(log *slog.Logger) *Engine {
	cp := *e
	cp.log = log
	return &cp
}

// Run trims src to w and writes the result to sink. It always closes src and
// either finalizes or aborts sink. Progress is published to prog after every
// chunk; pause and cancel take effect at chunk boundaries.
func (e *Engine) Run(ctx context.Context, w Window, src audio.Source, sink audio.Sink, sig *Signal, prog *Progress) Result {
	defer src.Close()

	format := src.Format()
	total := src.Duration()
	if w.StartSeconds > total {
		return e.fail(sink, 0, format, fmt.Errorf("%w: start %.3fs, asset %.3fs", ErrOutOfRange, w.StartSeconds, total))
	}
	endSeconds := min(w.StartSeconds+w.DurationSeconds, total)

	startSample := format.SampleAt(w.StartSeconds)
	endSample := max(format.SampleAt(endSeconds), startSample)
	span := endSample - startSample
	chunkSamples := max(int64(math.Ceil(e.chunkSeconds*float64(format.SampleRate))), 1)

	if err := src.Seek(w.StartSeconds); err != nil {
		return e.fail(sink, 0, format, err)
	}

	pos := startSample
	onPause := func() {
		prog.update(func(s *ProgressSnapshot) { s.State = StatePaused })
		e.log.Info("cut paused", slog.Float64("position_seconds", format.Seconds(pos)))
	}
	onResume := func() {
		prog.update(func(s *ProgressSnapshot) { s.State = StateRunning })
		e.log.Info("cut resumed")
	}

	done := span == 0
	for {
		if sig.Checkpoint(ctx, onPause, onResume) {
			_ = sink.Abort()
			return Result{State: StateCancelled, SamplesWritten: pos - startSample, SecondsWritten: format.Seconds(pos - startSample)}
		}
		if done {
			if sig.Seal() {
				break
			}
			// A request arrived after the checkpoint; go round and honour it.
			continue
		}

		frames, n, eof, err := e.pull(ctx, src, chunkSamples, endSample-pos)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = sink.Abort()
				return Result{State: StateCancelled, SamplesWritten: pos - startSample, SecondsWritten: format.Seconds(pos - startSample)}
			}
			return e.fail(sink, pos-startSample, format, err)
		}
		for _, fr := range frames {
			if err := sink.Write(fr); err != nil {
				return e.fail(sink, pos-startSample, format, err)
			}
		}
		pos += n
		done = eof || pos >= endSample

		percent := 100
		if !done {
			percent = int(100 * (pos - startSample) / span)
		}
		prog.update(func(s *ProgressSnapshot) { s.Percent = percent })
	}

	if err := sink.Finalize(); err != nil {
		return e.fail(nil, pos-startSample, format, err)
	}
	// An empty window reads no chunks and so publishes no progress.
	prog.update(func(s *ProgressSnapshot) { s.Percent = 100 })
	e.log.Debug("cut finished",
		slog.Int64("samples", pos-startSample),
		slog.Float64("seconds", format.Seconds(pos-startSample)))
	return Result{State: StateCompleted, SamplesWritten: pos - startSample, SecondsWritten: format.Seconds(pos - startSample)}
}

// fail aborts sink (if any) and reports a failed run.
func (e *Engine) fail(sink audio.Sink, written int64, format audio.Format, err error) Result {
	if sink != nil {
		if aerr := sink.Abort(); aerr != nil {
			e.log.Warn("abort output", slog.String("error", aerr.Error()))
		}
	}
	res := Result{State: StateFailed, Err: err, SamplesWritten: written}
	if format.SampleRate > 0 {
		res.SecondsWritten = format.Seconds(written)
	}
	return res
}

// pull reads frames until at least want samples are collected, limit samples
// are reached or the source is exhausted. The last frame is cut to limit.
func (e *Engine) pull(ctx context.Context, src audio.Source, want, limit int64) ([]audio.Frame, int64, bool, error) {
	if e.chunkTimeout <= 0 {
		return readChunk(src, want, limit)
	}

	type result struct {
		frames []audio.Frame
		n      int64
		eof    bool
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		frames, n, eof, err := readChunk(src, want, limit)
		ch <- result{frames, n, eof, err}
	}()

	timer := time.NewTimer(e.chunkTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.frames, r.n, r.eof, r.err
	case <-timer.C:
		// Closing the source unblocks the reader; wait for it so nothing leaks.
		_ = src.Close()
		<-ch
		return nil, 0, false, fmt.Errorf("%w after %s", ErrChunkTimeout, e.chunkTimeout)
	case <-ctx.Done():
		_ = src.Close()
		<-ch
		return nil, 0, false, ctx.Err()
	}
}

func readChunk(src audio.Source, want, limit int64) ([]audio.Frame, int64, bool, error) {
	blockAlign := src.Format().BlockAlign()
	var (
		frames []audio.Frame
		n      int64
	)
	for n < want && n < limit {
		fr, err := src.Next()
		if errors.Is(err, io.EOF) {
			return frames, n, true, nil
		}
		if err != nil {
			return nil, 0, false, err
		}
		if n+int64(fr.Samples) > limit {
			fr = fr.Head(int(limit-n), blockAlign)
		}
		frames = append(frames, fr)
		n += int64(fr.Samples)
	}
	return frames, n, false, nil
}
