package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// DefaultFrameSamples is the number of samples per decoded frame when no size
// is configured.
const DefaultFrameSamples = 1024

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
	wavHeaderSize       = 44
	wavUnknownSize      = 0xFFFFFFFF
)

// WAVOpener decodes RIFF/WAVE files holding integer PCM.
type WAVOpener struct {
	FrameSamples int
}

// Open implements Opener.
func (o WAVOpener) Open(ctx context.Context, path string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	src, err := newWAVSource(f, o.FrameSamples)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

type wavSource struct {
	f            *os.File
	r            *bufio.Reader
	format       Format
	dataOffset   int64
	totalSamples int64
	frameSamples int

	pos     int64
	started bool

	closeOnce sync.Once
	closeErr  error
}

func newWAVSource(f *os.File, frameSamples int) (*wavSource, error) {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrUnsupportedFormat)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	var (
		format    Format
		haveFmt   bool
		chunkHead [8]byte
	)
	for {
		if _, err := io.ReadFull(f, chunkHead[:]); err != nil {
			return nil, fmt.Errorf("%w: no data chunk", ErrCorrupt)
		}
		id := string(chunkHead[0:4])
		size := binary.LittleEndian.Uint32(chunkHead[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrCorrupt)
			}
			if size%2 == 1 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return nil, err
				}
			}
			parsed, err := parseWAVFmt(body)
			if err != nil {
				return nil, err
			}
			format, haveFmt = parsed, true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			offset, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			dataSize := int64(size)
			if size == wavUnknownSize {
				// Streaming writers leave the size unset; use what is on disk.
				info, err := f.Stat()
				if err != nil {
					return nil, err
				}
				dataSize = info.Size() - offset
			}
			ba := int64(format.BlockAlign())
			return &wavSource{
				f:            f,
				r:            bufio.NewReaderSize(f, frameSamples*int(ba)),
				format:       format,
				dataOffset:   offset,
				totalSamples: dataSize / ba,
				frameSamples: frameSamples,
			}, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
}

func parseWAVFmt(b []byte) (Format, error) {
	if len(b) < 16 {
		return Format{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrCorrupt, len(b))
	}
	tag := binary.LittleEndian.Uint16(b[0:2])
	if tag == wavFormatExtensible && len(b) >= 26 {
		tag = binary.LittleEndian.Uint16(b[24:26])
	}
	if tag != wavFormatPCM {
		return Format{}, fmt.Errorf("%w: wav format tag 0x%04x", ErrUnsupportedFormat, tag)
	}
	format := Format{
		Channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if err := format.Validate(); err != nil {
		return Format{}, err
	}
	if blockAlign := int(binary.LittleEndian.Uint16(b[12:14])); blockAlign != format.BlockAlign() {
		return Format{}, fmt.Errorf("%w: block align %d for %+v", ErrCorrupt, blockAlign, format)
	}
	return format, nil
}

func (s *wavSource) Format() Format { return s.format }

func (s *wavSource) Duration() float64 { return s.format.Seconds(s.totalSamples) }

func (s *wavSource) Seek(seconds float64) error {
	if s.started {
		return errors.New("wav: seek after first read")
	}
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("wav: invalid seek position %v", seconds)
	}
	sample := min(s.format.SampleAt(seconds), s.totalSamples)
	if _, err := s.f.Seek(s.dataOffset+sample*int64(s.format.BlockAlign()), io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek: %w", err)
	}
	s.r.Reset(s.f)
	s.pos = sample
	return nil
}

func (s *wavSource) Next() (Frame, error) {
	s.started = true
	if s.pos >= s.totalSamples {
		return Frame{}, io.EOF
	}
	n := int(min(int64(s.frameSamples), s.totalSamples-s.pos))
	buf := make([]byte, n*s.format.BlockAlign())
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: data ends before sample %d of %d", ErrCorrupt, s.pos+int64(n), s.totalSamples)
		}
		return Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	fr := Frame{Offset: s.pos, Samples: n, Data: buf}
	s.pos += int64(n)
	return fr, nil
}

func (s *wavSource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.f.Close() })
	return s.closeErr
}

// WAVSinkFactory writes canonical 44-byte-header PCM WAV files.
type WAVSinkFactory struct{}

// Create implements SinkFactory.
func (WAVSinkFactory) Create(ctx context.Context, path string, format Format) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}
	s := &wavSink{pf: pf, w: bufio.NewWriter(pf), format: format}
	if _, err := s.w.Write(wavHeader(format, 0)); err != nil {
		pf.Cleanup()
		return nil, fmt.Errorf("%w: write header: %w", ErrIO, err)
	}
	return s, nil
}

type wavSink struct {
	pf        *renameio.PendingFile
	w         *bufio.Writer
	format    Format
	dataBytes int64
	done      bool
}

func (s *wavSink) Write(fr Frame) error {
	if s.done {
		return errors.New("wav: write after finalize or abort")
	}
	if s.dataBytes+int64(len(fr.Data)) > math.MaxUint32-37 {
		return fmt.Errorf("%w: wav output exceeds 4 GiB", ErrIO)
	}
	n, err := s.w.Write(fr.Data)
	s.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (s *wavSink) Finalize() error {
	if s.done {
		return nil
	}
	s.done = true
	// RIFF chunks are word aligned; an odd data chunk gets one pad byte.
	if s.dataBytes%2 == 1 {
		if err := s.w.WriteByte(0); err != nil {
			s.pf.Cleanup()
			return fmt.Errorf("%w: pad: %w", ErrIO, err)
		}
	}
	if err := s.w.Flush(); err != nil {
		s.pf.Cleanup()
		return fmt.Errorf("%w: flush: %w", ErrIO, err)
	}
	if _, err := s.pf.WriteAt(wavHeader(s.format, s.dataBytes), 0); err != nil {
		s.pf.Cleanup()
		return fmt.Errorf("%w: patch header: %w", ErrIO, err)
	}
	if err := s.pf.CloseAtomicallyReplace(); err != nil {
		s.pf.Cleanup()
		return fmt.Errorf("%w: commit: %w", ErrIO, err)
	}
	return nil
}

func (s *wavSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.pf.Cleanup()
}

func wavHeader(f Format, dataBytes int64) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataBytes+dataBytes%2))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.SampleRate*f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataBytes))
	return h
}
