package cutter

import (
	"sync/atomic"
	"time"
)

// Progress holds the latest ProgressSnapshot. It has a single writer (the
// goroutine driving the current job) and any number of lock-free readers.
type Progress struct {
	cur atomic.Pointer[ProgressSnapshot]
}

// NewProgress returns a Progress reporting an idle slot.
func NewProgress() *Progress {
	p := &Progress{}
	p.cur.Store(&ProgressSnapshot{State: StateIdle, UpdatedAt: time.Now().UTC()})
	return p
}

// Load returns the current snapshot by value.
func (p *Progress) Load() ProgressSnapshot {
	return *p.cur.Load()
}

// reset replaces the snapshot unconditionally, used when a new job takes the slot.
func (p *Progress) reset(s ProgressSnapshot) {
	s.Percent = clampPercent(s.Percent)
	s.UpdatedAt = time.Now().UTC()
	p.cur.Store(&s)
}

// update copies the current snapshot, applies fn and publishes the result.
// Percent never decreases within a job.
func (p *Progress) update(fn func(s *ProgressSnapshot)) ProgressSnapshot {
	prev := p.cur.Load()
	next := *prev
	fn(&next)
	next.Percent = max(clampPercent(next.Percent), prev.Percent)
	next.UpdatedAt = time.Now().UTC()
	p.cur.Store(&next)
	return next
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
