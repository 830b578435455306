package audio_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audio-cutter/internal/audio"
	"audio-cutter/internal/audio/audiotest"
)

func TestRegistry_DispatchByExtension(t *testing.T) {
	r := audio.NewDefaultRegistry(256, nil)
	dir := t.TempDir()
	path := audiotest.WriteWAV(t, filepath.Join(dir, "Song.WAV"), audiotest.Mono8k, 0.25)

	src, err := r.Open(context.Background(), path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, audiotest.Mono8k, src.Format())

	sink, err := r.Create(context.Background(), filepath.Join(dir, "cut.wav"), audiotest.Mono8k)
	require.NoError(t, err)
	require.NoError(t, sink.Abort())
}

func TestRegistry_Unsupported(t *testing.T) {
	r := audio.NewDefaultRegistry(0, nil)

	assert.False(t, r.Supports("song.mp3"), "mp3 needs ffmpeg")
	_, err := r.Open(context.Background(), "/x/song.mp3")
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
	_, err = r.Create(context.Background(), "/x/song.txt", audiotest.Mono8k)
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestRegistry_WithFFmpeg(t *testing.T) {
	r := audio.NewDefaultRegistry(0, audio.NewFFmpeg("", "", 0, nil))

	assert.True(t, r.Supports("a.mp3"))
	assert.True(t, r.Supports("a.flac"))
	assert.True(t, r.Supports("a.wav"))
	assert.Equal(t, []string{".aac", ".flac", ".m4a", ".mp3", ".ogg", ".opus", ".wav"}, r.Extensions())
}

func TestFrame_Head(t *testing.T) {
	fr := audio.Frame{Offset: 100, Samples: 4, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}

	head := fr.Head(3, 2)
	assert.Equal(t, int64(100), head.Offset)
	assert.Equal(t, 3, head.Samples)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, head.Data)
	assert.Equal(t, int64(103), head.End())

	assert.Equal(t, fr, fr.Head(10, 2))
	assert.Equal(t, 0, fr.Head(-1, 2).Samples)
}

func TestFormat(t *testing.T) {
	f := audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	require.NoError(t, f.Validate())
	assert.Equal(t, 4, f.BlockAlign())
	assert.Equal(t, int64(441000), f.SampleAt(10))
	assert.InDelta(t, 10.0, f.Seconds(441000), 1e-12)

	assert.ErrorIs(t, audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 12}.Validate(), audio.ErrUnsupportedFormat)
	assert.ErrorIs(t, audio.Format{Channels: 2, BitsPerSample: 16}.Validate(), audio.ErrUnsupportedFormat)
}
