package cutter

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// State is the lifecycle state of a cut job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible without a new job.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Active reports whether a job occupies the slot.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

var (
	// ErrValidation is returned for a malformed cut request.
	ErrValidation = errors.New("invalid cut request")

	// ErrOutOfRange is returned when the start lies beyond the end of the asset.
	ErrOutOfRange = errors.New("start is beyond the end of the asset")

	// ErrConflict is returned when a cut is started while another is running or paused.
	ErrConflict = errors.New("a cut job is already active")

	// ErrNoActiveJob is returned by Pause and Cancel when there is nothing to act on.
	ErrNoActiveJob = errors.New("no active cut job")

	// ErrNotPaused is returned by Resume when the job is not paused.
	ErrNotPaused = errors.New("cut job is not paused")

	// ErrChunkTimeout is recorded when pulling a single chunk takes longer than allowed.
	ErrChunkTimeout = errors.New("timed out decoding chunk")
)

// CutRequest asks for [StartSeconds, StartSeconds+DurationSeconds) of an asset.
type CutRequest struct {
	Radio           string  `json:"radio"`
	Filename        string  `json:"filename"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Validate checks the request on its own; range against the asset is checked
// once the source is open.
func (r CutRequest) Validate() error {
	if r.Radio == "" || r.Filename == "" {
		return fmt.Errorf("%w: radio and filename are required", ErrValidation)
	}
	if math.IsNaN(r.StartSeconds) || math.IsInf(r.StartSeconds, 0) || r.StartSeconds < 0 {
		return fmt.Errorf("%w: startSeconds must be >= 0, got %v", ErrValidation, r.StartSeconds)
	}
	if math.IsNaN(r.DurationSeconds) || math.IsInf(r.DurationSeconds, 0) || r.DurationSeconds <= 0 {
		return fmt.Errorf("%w: durationSeconds must be > 0, got %v", ErrValidation, r.DurationSeconds)
	}
	return nil
}

// Job describes the cut occupying the controller's slot.
type Job struct {
	ID         string
	Request    CutRequest
	InputPath  string
	OutputPath string
	CreatedAt  time.Time
}

// ProgressSnapshot is an immutable view of the current job handed to readers.
type ProgressSnapshot struct {
	JobID      string    `json:"jobId,omitempty"`
	Radio      string    `json:"radioName,omitempty"`
	Filename   string    `json:"fileName,omitempty"`
	State      State     `json:"state"`
	Percent    int       `json:"progress"`
	OutputPath string    `json:"-"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
