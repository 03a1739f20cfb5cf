package services

import (
	"time"

	"sfulink/internal/core/domain"

	"github.com/benbjohnson/clock"
)

type backoffEntry struct {
	delay time.Duration
	timer *clock.Timer
	token uint64
}

// ReconnectScheduler keeps one timer and one backoff delay per stream.
// It is not safe for concurrent use: the session manager loop owns it, and
// timer callbacks only report (stream, token) through onFire.
type ReconnectScheduler struct {
	clock  clock.Clock
	base   time.Duration
	max    time.Duration
	onFire func(id domain.StreamID, token uint64)

	entries   map[domain.StreamID]*backoffEntry
	lastToken uint64
}

func NewReconnectScheduler(clk clock.Clock, base, max time.Duration, onFire func(domain.StreamID, uint64)) *ReconnectScheduler {
	if max < base {
		max = base
	}
	return &ReconnectScheduler{
		clock:   clk,
		base:    base,
		max:     max,
		onFire:  onFire,
		entries: make(map[domain.StreamID]*backoffEntry),
	}
}

// Arm starts the timer for id using its current delay, or the base delay on first use.
// Arming while a timer is pending is a no-op and returns false.
func (s *ReconnectScheduler) Arm(id domain.StreamID) bool {
	e := s.entry(id)
	if e.timer != nil {
		return false
	}
	if e.delay == 0 {
		e.delay = s.base
	}

	s.lastToken++
	token := s.lastToken
	e.token = token
	e.timer = s.clock.AfterFunc(e.delay, func() {
		s.onFire(id, token)
	})
	return true
}

// Fired validates a timer firing. Firings of cleared or re-armed timers are stale
// and return false.
func (s *ReconnectScheduler) Fired(id domain.StreamID, token uint64) bool {
	e, ok := s.entries[id]
	if !ok || e.timer == nil || e.token != token {
		return false
	}
	e.timer = nil
	return true
}

// Escalate doubles the delay of id up to the cap and returns it.
func (s *ReconnectScheduler) Escalate(id domain.StreamID) time.Duration {
	e := s.entry(id)
	if e.delay == 0 {
		e.delay = s.base
	}
	e.delay *= 2
	if e.delay > s.max {
		e.delay = s.max
	}
	return e.delay
}

// Clear cancels any pending timer and resets the delay to base.
func (s *ReconnectScheduler) Clear(id domain.StreamID) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, id)
}

// ClearAll cancels every pending timer
func (s *ReconnectScheduler) ClearAll() {
	for id := range s.entries {
		s.Clear(id)
	}
}

// Delay returns the delay the next Arm of id would use
func (s *ReconnectScheduler) Delay(id domain.StreamID) time.Duration {
	if e, ok := s.entries[id]; ok && e.delay > 0 {
		return e.delay
	}
	return s.base
}

// Pending reports whether a timer for id is armed
func (s *ReconnectScheduler) Pending(id domain.StreamID) bool {
	e, ok := s.entries[id]
	return ok && e.timer != nil
}

func (s *ReconnectScheduler) entry(id domain.StreamID) *backoffEntry {
	e, ok := s.entries[id]
	if !ok {
		e = &backoffEntry{}
		s.entries[id] = e
	}
	return e
}
