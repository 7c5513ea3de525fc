package transfer

import (
	"math"
	"sync/atomic"
)

// State is a point-in-time snapshot of a transfer handed to the progress sink.
// Total is 0 while the final size is unknown.
type State struct {
	Downloaded uint64
	Total      uint64
	Speed      float64 // bytes per second, smoothed
}

func (s State) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return math.Min(100, float64(s.Downloaded)/float64(s.Total)*100)
}

// ETA returns the whole seconds left at the current speed. ok is false when
// either the total or the speed is unknown.
func (s State) ETA() (seconds uint64, ok bool) {
	if s.Total == 0 || s.Speed <= 0 {
		return 0, false
	}
	if s.Downloaded >= s.Total {
		return 0, true
	}
	return uint64(float64(s.Total-s.Downloaded) / s.Speed), true
}

// Signals carries the pause and cancel flags shared between the owner of a
// transfer and its loop. The zero value is ready to use. Each flag is read at
// every checkpoint of the loop, so a change becomes visible within one chunk.
type Signals struct {
	pause  atomic.Bool
	cancel atomic.Bool
}

func NewSignals() *Signals {
	return &Signals{}
}

func (s *Signals) Pause()  { s.pause.Store(true) }
func (s *Signals) Resume() { s.pause.Store(false) }

// TogglePause flips the pause flag and returns the new value.
func (s *Signals) TogglePause() bool {
	for {
		old := s.pause.Load()
		if s.pause.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Cancel is one-shot; nothing in this package clears it.
func (s *Signals) Cancel() { s.cancel.Store(true) }

func (s *Signals) Paused() bool    { return s.pause.Load() }
func (s *Signals) Cancelled() bool { return s.cancel.Load() }
