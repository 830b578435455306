package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// stderrLimit bounds how much ffmpeg diagnostic output is kept for error messages.
const stderrLimit = 4096

type ffmpegEncoder struct {
	muxer string
	codec string
}

var ffmpegEncoders = map[string]ffmpegEncoder{
	".mp3":  {muxer: "mp3", codec: "libmp3lame"},
	".ogg":  {muxer: "ogg", codec: "libvorbis"},
	".opus": {muxer: "opus", codec: "libopus"},
	".flac": {muxer: "flac", codec: "flac"},
	".m4a":  {muxer: "ipod", codec: "aac"},
	".aac":  {muxer: "adts", codec: "aac"},
	".wav":  {muxer: "wav", codec: "pcm_s16le"},
}

// FFmpeg decodes and encodes compressed audio by running the ffmpeg and
// ffprobe binaries. Decoded frames are 16-bit PCM at the source rate and
// channel count.
type FFmpeg struct {
	FFmpegPath   string
	FFprobePath  string
	FrameSamples int
	Logger       *slog.Logger
}

// NewFFmpeg returns a codec using the given binaries. Empty paths fall back to
// "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, frameSamples int, log *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, FrameSamples: frameSamples, Logger: log}
}

type probeResult struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Open implements Opener. The file is probed immediately; the decoder process
// starts on the first call to Next.
func (ff *FFmpeg) Open(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, ff.FFprobePath, ff.probeArgs(path)...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffprobe %s: %v: %s", ErrUnsupportedFormat, path, err, strings.TrimSpace(stderr.String()))
	}

	format, duration, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	return &ffmpegSource{
		ff:       ff,
		path:     path,
		format:   format,
		duration: duration,
		ctx:      procCtx,
		cancel:   cancel,
	}, nil
}

func (ff *FFmpeg) probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-select_streams", "a:0",
		path,
	}
}

func parseProbe(out []byte) (Format, float64, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return Format{}, 0, fmt.Errorf("%w: parse ffprobe output: %v", ErrUnsupportedFormat, err)
	}

	for _, st := range res.Streams {
		if st.CodecType != "audio" {
			continue
		}
		rate, err := strconv.Atoi(st.SampleRate)
		if err != nil {
			return Format{}, 0, fmt.Errorf("%w: sample rate %q", ErrUnsupportedFormat, st.SampleRate)
		}
		format := Format{SampleRate: rate, Channels: st.Channels, BitsPerSample: 16}
		if err := format.Validate(); err != nil {
			return Format{}, 0, err
		}

		raw := st.Duration
		if raw == "" || raw == "N/A" {
			raw = res.Format.Duration
		}
		duration, err := strconv.ParseFloat(raw, 64)
		if err != nil || duration < 0 {
			return Format{}, 0, fmt.Errorf("%w: unknown duration %q", ErrUnsupportedFormat, raw)
		}
		return format, duration, nil
	}
	return Format{}, 0, fmt.Errorf("%w: no audio stream", ErrUnsupportedFormat)
}

type ffmpegSource struct {
	ff       *FFmpeg
	path     string
	format   Format
	duration float64

	ctx    context.Context
	cancel context.CancelFunc

	startSample int64
	pos         int64
	stdout      *bufio.Reader
	stderr      *limitedBuffer
	eof         bool

	// mu guards cmd, which Close may read while Next is blocked on the pipe.
	mu       sync.Mutex
	cmd      *exec.Cmd
	waitOnce sync.Once
	waitErr  error

	closeOnce sync.Once
}

func (s *ffmpegSource) Format() Format { return s.format }

func (s *ffmpegSource) Duration() float64 { return s.duration }

func (s *ffmpegSource) Seek(seconds float64) error {
	if s.stdout != nil {
		return errors.New("ffmpeg: seek after first read")
	}
	if seconds < 0 {
		return fmt.Errorf("ffmpeg: invalid seek position %v", seconds)
	}
	s.startSample = s.format.SampleAt(seconds)
	s.pos = s.startSample
	return nil
}

func (s *ffmpegSource) decodeArgs() []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-ss", strconv.FormatFloat(s.format.Seconds(s.startSample), 'f', 6, 64),
		"-i", s.path,
		"-vn",
		"-map", "0:a:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-ac", strconv.Itoa(s.format.Channels),
		"pipe:1",
	}
}

func (s *ffmpegSource) start() error {
	cmd := exec.CommandContext(s.ctx, s.ff.FFmpegPath, s.decodeArgs()...) // #nosec G204
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	s.stderr = &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	s.stdout = bufio.NewReaderSize(stdout, s.ff.FrameSamples*s.format.BlockAlign())
	s.ff.Logger.Debug("decoder started",
		slog.String("path", s.path),
		slog.Int("pid", cmd.Process.Pid),
		slog.Float64("start_seconds", s.format.Seconds(s.startSample)))
	return nil
}

func (s *ffmpegSource) Next() (Frame, error) {
	if s.eof {
		return Frame{}, io.EOF
	}
	if s.stdout == nil {
		if err := s.start(); err != nil {
			return Frame{}, err
		}
	}

	ba := s.format.BlockAlign()
	buf := make([]byte, s.ff.FrameSamples*ba)
	n, err := io.ReadFull(s.stdout, buf)
	n -= n % ba
	if n > 0 {
		fr := Frame{Offset: s.pos, Samples: n / ba, Data: buf[:n]}
		s.pos += int64(fr.Samples)
		if err != nil {
			s.eof = true
			if werr := s.wait(); werr != nil {
				return Frame{}, werr
			}
		}
		return fr, nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Frame{}, fmt.Errorf("%w: read decoder output: %w", ErrCorrupt, err)
	}
	s.eof = true
	if werr := s.wait(); werr != nil {
		return Frame{}, werr
	}
	return Frame{}, io.EOF
}

func (s *ffmpegSource) reap(cmd *exec.Cmd) error {
	s.waitOnce.Do(func() { s.waitErr = cmd.Wait() })
	return s.waitErr
}

// wait reaps the decoder after its output is exhausted.
func (s *ffmpegSource) wait() error {
	if err := s.reap(s.cmd); err != nil {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return fmt.Errorf("%w: ffmpeg decode: %v: %s", ErrCorrupt, err, s.stderr.String())
	}
	return nil
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd != nil {
			_ = s.reap(cmd)
		}
	})
	return nil
}

// Create implements SinkFactory. The encoder is chosen by the extension of path.
func (ff *FFmpeg) Create(ctx context.Context, path string, format Format) (Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	enc, ok := ffmpegEncoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrUnsupportedFormat, path)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, ff.FFmpegPath, encodeArgs(format, enc, pf.Name())...) // #nosec G204
	cmd.WaitDelay = 5 * time.Second
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		pf.Cleanup()
		return nil, err
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		pf.Cleanup()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	ff.Logger.Debug("encoder started",
		slog.String("path", path),
		slog.String("muxer", enc.muxer),
		slog.Int("pid", cmd.Process.Pid))

	return &ffmpegSink{pf: pf, cmd: cmd, stdin: stdin, stderr: stderr, cancel: cancel}, nil
}

func encodeArgs(format Format, enc ffmpegEncoder, target string) []string {
	return []string{
		"-v", "error",
		"-f", pcmInputFormat(format.BitsPerSample),
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-c:a", enc.codec,
		"-f", enc.muxer,
		"-y",
		target,
	}
}

func pcmInputFormat(bits int) string {
	switch bits {
	case 8:
		return "u8"
	case 24:
		return "s24le"
	case 32:
		return "s32le"
	default:
		return "s16le"
	}
}

type ffmpegSink struct {
	pf     *renameio.PendingFile
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *limitedBuffer
	cancel context.CancelFunc
	done   bool
}

func (s *ffmpegSink) Write(fr Frame) error {
	if s.done {
		return errors.New("ffmpeg: write after finalize or abort")
	}
	if _, err := s.stdin.Write(fr.Data); err != nil {
		return fmt.Errorf("%w: ffmpeg encode: %w: %s", ErrIO, err, s.stderr.String())
	}
	return nil
}

func (s *ffmpegSink) Finalize() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.cancel()

	if err := s.stdin.Close(); err != nil {
		s.discard()
		return fmt.Errorf("%w: close encoder input: %w", ErrIO, err)
	}
	if err := s.cmd.Wait(); err != nil {
		s.pf.Cleanup()
		return fmt.Errorf("%w: ffmpeg encode: %v: %s", ErrIO, err, s.stderr.String())
	}
	// ffmpeg rewrote the pending file in place; commit it.
	if err := s.pf.CloseAtomicallyReplace(); err != nil {
		s.pf.Cleanup()
		return fmt.Errorf("%w: commit: %w", ErrIO, err)
	}
	return nil
}

func (s *ffmpegSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.discard()
}

func (s *ffmpegSink) discard() error {
	s.cancel()
	_ = s.stdin.Close()
	_ = s.cmd.Wait()
	return s.pf.Cleanup()
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
