package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a lazily decoded, forward-only sequence of frames with a known
// total duration. Seek may be called once, before the first Next.
// Next returns io.EOF after the last frame. Close is idempotent.
type Source interface {
	Format() Format
	Duration() float64
	Seek(seconds float64) error
	Next() (Frame, error)
	Close() error
}

// Opener opens audio assets for decoding.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// Sink incrementally encodes frames into an output asset. Finalize produces a
// complete file at the target path; Abort discards everything written so far.
// After either call further calls are no-ops.
type Sink interface {
	Write(fr Frame) error
	Finalize() error
	Abort() error
}

// SinkFactory creates sinks for output assets.
type SinkFactory interface {
	Create(ctx context.Context, path string, format Format) (Sink, error)
}

// Codec pairs a decoder and an encoder for one file extension.
type Codec struct {
	Opener Opener
	Sinks  SinkFactory
}

// Registry dispatches Open and Create by lower-cased file extension.
// It implements both Opener and SinkFactory.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// NewDefaultRegistry registers the native WAV codec and, when ff is not nil,
// ffmpeg-backed codecs for the compressed formats.
func NewDefaultRegistry(frameSamples int, ff *FFmpeg) *Registry {
	r := NewRegistry()
	r.Register(".wav", Codec{Opener: WAVOpener{FrameSamples: frameSamples}, Sinks: WAVSinkFactory{}})
	if ff != nil {
		for ext := range ffmpegEncoders {
			if ext == ".wav" {
				continue
			}
			r.Register(ext, Codec{Opener: ff, Sinks: ff})
		}
	}
	return r
}

// Register binds ext (with leading dot) to c, replacing any previous binding.
func (r *Registry) Register(ext string, c Codec) {
	r.codecs[strings.ToLower(ext)] = c
}

// Supports reports whether name has a registered extension.
func (r *Registry) Supports(name string) bool {
	_, ok := r.codecs[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.codecs))
	for ext := range r.codecs {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Open implements Opener.
func (r *Registry) Open(ctx context.Context, path string) (Source, error) {
	c, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	return c.Opener.Open(ctx, path)
}

// Create implements SinkFactory.
func (r *Registry) Create(ctx context.Context, path string, format Format) (Sink, error) {
	c, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	return c.Sinks.Create(ctx, path, format)
}

func (r *Registry) lookup(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := r.codecs[ext]
	if !ok {
		return Codec{}, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	return c, nil
}
