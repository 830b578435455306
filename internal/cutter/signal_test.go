package cutter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_Commands(t *testing.T) {
	s := NewSignal()

	assert.False(t, s.Resume(), "resume without pause")
	assert.True(t, s.Pause())
	assert.True(t, s.Pause(), "pause is idempotent")
	assert.True(t, s.PauseRequested())
	assert.True(t, s.Resume())
	assert.False(t, s.PauseRequested())

	assert.True(t, s.Cancel())
	assert.True(t, s.Cancel(), "cancel is idempotent")
	assert.False(t, s.Pause(), "pause after cancel")
	assert.False(t, s.Resume(), "resume after cancel")
}

func TestSignal_SealRefusesLateRequests(t *testing.T) {
	s := NewSignal()
	require.True(t, s.Seal())

	assert.False(t, s.Pause())
	assert.False(t, s.Cancel())
}

func TestSignal_SealFailsWithPendingRequest(t *testing.T) {
	s := NewSignal()
	require.True(t, s.Pause())
	assert.False(t, s.Seal())

	require.True(t, s.Resume())
	assert.True(t, s.Seal())
}

func TestSignal_CheckpointPassesWhenIdle(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Checkpoint(context.Background(), nil, nil))
}

func TestSignal_CheckpointStopsOnCancel(t *testing.T) {
	s := NewSignal()
	s.Cancel()
	assert.True(t, s.Checkpoint(context.Background(), nil, nil))
}

func TestSignal_CheckpointStopsOnContext(t *testing.T) {
	s := NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, s.Checkpoint(ctx, nil, nil))
}

func TestSignal_CheckpointBlocksWhilePaused(t *testing.T) {
	s := NewSignal()
	require.True(t, s.Pause())

	var pauses, resumes atomic.Int32
	done := make(chan bool, 1)
	go func() {
		done <- s.Checkpoint(context.Background(),
			func() { pauses.Add(1) },
			func() { resumes.Add(1) })
	}()

	require.Eventually(t, func() bool { return pauses.Load() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	// A repeated pause while blocked must not fire onPause again.
	s.Pause()
	time.Sleep(10 * time.Millisecond)

	require.True(t, s.Resume())
	select {
	case stop := <-done:
		assert.False(t, stop)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not wake on resume")
	}
	assert.EqualValues(t, 1, pauses.Load())
	assert.EqualValues(t, 1, resumes.Load())
}

func TestSignal_CancelWakesPausedCheckpoint(t *testing.T) {
	s := NewSignal()
	require.True(t, s.Pause())

	done := make(chan bool, 1)
	go func() { done <- s.Checkpoint(context.Background(), nil, nil) }()

	time.Sleep(10 * time.Millisecond)
	require.True(t, s.Cancel())
	select {
	case stop := <-done:
		assert.True(t, stop)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not wake on cancel")
	}
}
