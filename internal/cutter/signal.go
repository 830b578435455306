package cutter

import (
	"context"
	"sync"
)

type command int

const (
	cmdNone command = iota
	cmdPause
	cmdCancel
)

// Signal carries pause, resume and cancel requests from command handlers to
// the trim engine. Handlers write; the engine reads at chunk boundaries.
// Every change closes the current wake channel so a paused engine wakes
// without polling. Cancel is sticky. Once the engine seals the signal before
// finalizing output, pause and cancel are refused.
type Signal struct {
	mu     sync.Mutex
	cmd    command
	sealed bool
	wake   chan struct{}
}

// NewSignal returns a signal with no pending request.
func NewSignal() *Signal {
	return &Signal{wake: make(chan struct{})}
}

// Pause requests a pause. It reports false if the job is cancelled or sealed.
func (s *Signal) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return false
	}
	switch s.cmd {
	case cmdCancel:
		return false
	case cmdPause:
		return true
	}
	s.setLocked(cmdPause)
	return true
}

// Resume clears a pending or observed pause. It reports whether there was one.
func (s *Signal) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmdPause {
		return false
	}
	s.setLocked(cmdNone)
	return true
}

// Cancel requests cancellation and reports whether the run will observe it.
// Later pause or resume requests are ignored.
func (s *Signal) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return false
	}
	if s.cmd != cmdCancel {
		s.setLocked(cmdCancel)
	}
	return true
}

// Seal marks the point after which the run can no longer be paused or
// cancelled. It fails if a request is pending; the engine must then pass
// through Checkpoint again.
func (s *Signal) Seal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmdNone {
		return false
	}
	s.sealed = true
	return true
}

// PauseRequested reports whether a pause is pending or in effect.
func (s *Signal) PauseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd == cmdPause
}

func (s *Signal) setLocked(c command) {
	s.cmd = c
	close(s.wake)
	s.wake = make(chan struct{})
}

// Checkpoint is called by the engine before each chunk. It returns true when
// the run must stop, either because Cancel was requested or ctx is done.
// While a pause is in effect it blocks; onPause runs once when the pause is
// first observed and onResume runs once when it is lifted.
func (s *Signal) Checkpoint(ctx context.Context, onPause, onResume func()) (stop bool) {
	paused := false
	for {
		if ctx.Err() != nil {
			return true
		}
		s.mu.Lock()
		cmd, wake := s.cmd, s.wake
		s.mu.Unlock()

		switch cmd {
		case cmdCancel:
			return true
		case cmdNone:
			if paused && onResume != nil {
				onResume()
			}
			return false
		}

		if !paused {
			paused = true
			if onPause != nil {
				onPause()
			}
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return true
		}
	}
}
