package audio

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFound is returned when the asset does not exist.
	ErrNotFound = errors.New("audio asset not found")

	// ErrUnsupportedFormat is returned when the container or codec cannot be decoded
	// or encoded.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrCorrupt is returned when decoding fails part way through the stream.
	ErrCorrupt = errors.New("corrupt audio stream")

	// ErrIO is returned for output failures such as a full disk or a permission error.
	ErrIO = errors.New("audio output failure")
)

// Format describes interleaved little-endian integer PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign is the size in bytes of one sample across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Validate reports whether f can be carried in a Frame.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: sample rate %d, channels %d", ErrUnsupportedFormat, f.SampleRate, f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, f.BitsPerSample)
	}
	return nil
}

// SampleAt converts a position in seconds to the nearest sample index.
func (f Format) SampleAt(seconds float64) int64 {
	return int64(math.Round(seconds * float64(f.SampleRate)))
}

// Seconds converts a sample count to seconds.
func (f Format) Seconds(samples int64) float64 {
	return float64(samples) / float64(f.SampleRate)
}

// Frame is a run of decoded samples starting at Offset (a sample index from the
// start of the asset). Data holds Samples*BlockAlign bytes.
type Frame struct {
	Offset  int64
	Samples int
	Data    []byte
}

// End returns the sample index just past the frame.
func (fr Frame) End() int64 {
	return fr.Offset + int64(fr.Samples)
}

// Head returns the first n samples of the frame. n is clamped to [0, Samples].
func (fr Frame) Head(n int, blockAlign int) Frame {
	if n >= fr.Samples {
		return fr
	}
	if n < 0 {
		n = 0
	}
	return Frame{Offset: fr.Offset, Samples: n, Data: fr.Data[:n*blockAlign]}
}
