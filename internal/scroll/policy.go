// Package scroll decides when the view should jump to the newest content.
// The decision is pure; the Settler handles the asynchronous part, where
// attachment images finish loading after the initial render and keep
// growing the content height.
package scroll

import (
	"sync"
	"time"

	"github.com/rmaia/chatsync/internal/timers"
)

// Viewport is the UI-reported scroll state, in pixels.
type Viewport struct {
	Offset        int // distance scrolled from the top
	Height        int // visible height
	ContentHeight int
}

// Trigger is the event that caused a content change.
type Trigger int

const (
	// TriggerRemote is a message from the counterparty.
	TriggerRemote Trigger = iota
	// TriggerLocalSend is the local user's own outgoing message.
	TriggerLocalSend
	// TriggerForced is an explicit jump, e.g. on conversation open.
	TriggerForced
)

// Policy holds the near-bottom tolerance.
type Policy struct {
	NearBottom int
}

// DefaultPolicy matches the profile config defaults.
func DefaultPolicy() Policy {
	return Policy{NearBottom: 80}
}

// AtBottom reports whether the viewport is at or near the bottom.
func (p Policy) AtBottom(v Viewport) bool {
	return v.ContentHeight-(v.Offset+v.Height) <= p.NearBottom
}

// ShouldAutoScroll decides whether a content change may move the view.
// A user who has scrolled up is never fought: only their own outgoing
// message or an explicit force overrides their position.
func (p Policy) ShouldAutoScroll(v Viewport, tr Trigger) bool {
	switch tr {
	case TriggerLocalSend, TriggerForced:
		return true
	default:
		return p.AtBottom(v)
	}
}

// Settler re-applies an auto-scroll across a bounded sequence of delayed
// checks after a content mutation, stopping once the measured content
// height stops changing or the check budget runs out. Cancel on
// conversation switch so a stale sequence never scrolls the next one.
type Settler struct {
	measure  func() int
	apply    func()
	maxTries int
	interval time.Duration

	mu         sync.Mutex
	timer      timers.Timer
	remaining  int
	lastHeight int
}

// NewSettler creates a settler. measure returns the current content
// height; apply performs the scroll.
func NewSettler(measure func() int, apply func(), maxTries int, interval time.Duration) *Settler {
	if maxTries <= 0 {
		maxTries = 5
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Settler{
		measure:  measure,
		apply:    apply,
		maxTries: maxTries,
		interval: interval,
	}
}

// Kick applies the scroll now and starts (or restarts) the settle
// sequence.
func (s *Settler) Kick() {
	s.apply()
	s.mu.Lock()
	s.remaining = s.maxTries
	s.lastHeight = s.measure()
	s.mu.Unlock()
	s.timer.Arm(s.interval, s.step)
}

func (s *Settler) step() {
	h := s.measure()

	s.mu.Lock()
	s.remaining--
	stable := h == s.lastHeight
	s.lastHeight = h
	again := !stable && s.remaining > 0
	s.mu.Unlock()

	if stable {
		return
	}
	s.apply()
	if again {
		s.timer.Arm(s.interval, s.step)
	}
}

// Cancel stops the settle sequence.
func (s *Settler) Cancel() {
	s.timer.Stop()
}
