// Package audiotest provides deterministic PCM fixtures and scripted sources
// and sinks for tests.
package audiotest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"audio-cutter/internal/audio"
)

// Mono8k is a small format that keeps fixtures fast.
var Mono8k = audio.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}

// PCM returns the fixture bytes for samples [offset, offset+samples). The
// content depends only on the absolute sample index, so any cut of a fixture
// can be checked against PCM(format, start, n).
func PCM(format audio.Format, offset, samples int64) []byte {
	ba := int64(format.BlockAlign())
	out := make([]byte, samples*ba)
	for i := int64(0); i < samples; i++ {
		s := offset + i
		for j := int64(0); j < ba; j++ {
			out[i*ba+j] = byte((s*7 + j*3 + s/251) % 256)
		}
	}
	return out
}

// WriteWAV writes a fixture WAV of the given length to path, creating parent
// directories, and returns path.
func WriteWAV(t testing.TB, path string, format audio.Format, seconds float64) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sink, err := audio.WAVSinkFactory{}.Create(context.Background(), path, format)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	total := format.SampleAt(seconds)
	const block = 4096
	for off := int64(0); off < total; off += block {
		n := min(int64(block), total-off)
		if err := sink.Write(audio.Frame{Offset: off, Samples: int(n), Data: PCM(format, off, n)}); err != nil {
			t.Fatalf("write wav: %v", err)
		}
	}
	if err := sink.Finalize(); err != nil {
		t.Fatalf("finalize wav: %v", err)
	}
	return path
}

// ReadWAV decodes the whole file at path and returns its format and PCM data.
func ReadWAV(t testing.TB, path string) (audio.Format, []byte) {
	t.Helper()
	src, err := audio.WAVOpener{}.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer src.Close()
	var data []byte
	for {
		fr, err := src.Next()
		if errors.Is(err, io.EOF) {
			return src.Format(), data
		}
		if err != nil {
			t.Fatalf("read wav: %v", err)
		}
		data = append(data, fr.Data...)
	}
}

// Gate blocks a Source's Next calls until released. It lets tests hold the
// trim loop at a known frame.
type Gate struct {
	mu      sync.Mutex
	open    bool
	ch      chan struct{}
	entered chan struct{}
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}), entered: make(chan struct{}, 1)}
}

// Open releases all current and future waiters.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.ch)
	}
}

// Entered is signalled the first time a reader blocks on the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

func (g *Gate) wait() {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.ch
}

// GatedOpener wraps an Opener so that every Source it returns waits on Gate
// before producing the frame that starts at or after sample AfterSample.
type GatedOpener struct {
	audio.Opener
	Gate        *Gate
	AfterSample int64
}

// Open implements audio.Opener.
func (o GatedOpener) Open(ctx context.Context, path string) (audio.Source, error) {
	src, err := o.Opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &gatedSource{Source: src, gate: o.Gate, after: o.AfterSample}, nil
}

type gatedSource struct {
	audio.Source
	gate  *Gate
	after int64
	pos   int64
}

func (s *gatedSource) Seek(seconds float64) error {
	if err := s.Source.Seek(seconds); err != nil {
		return err
	}
	s.pos = s.Format().SampleAt(seconds)
	return nil
}

func (s *gatedSource) Next() (audio.Frame, error) {
	if s.pos >= s.after {
		s.gate.wait()
	}
	fr, err := s.Source.Next()
	if err == nil {
		s.pos = fr.End()
	}
	return fr, err
}

// FailingSink is a Sink that fails every Write after FailAfter successful ones.
type FailingSink struct {
	FailAfter int
	Err       error

	mu        sync.Mutex
	writes    int
	Aborted   bool
	Finalized bool
}

// Write implements audio.Sink.
func (s *FailingSink) Write(audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes >= s.FailAfter {
		return s.Err
	}
	s.writes++
	return nil
}

// Finalize implements audio.Sink.
func (s *FailingSink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finalized = true
	return nil
}

// Abort implements audio.Sink.
func (s *FailingSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aborted = true
	return nil
}

// SinkFunc adapts a function to audio.SinkFactory.
type SinkFunc func(ctx context.Context, path string, format audio.Format) (audio.Sink, error)

// Create implements audio.SinkFactory.
func (f SinkFunc) Create(ctx context.Context, path string, format audio.Format) (audio.Sink, error) {
	return f(ctx, path, format)
}
