// Package timers provides cancellable one-shot timers owned by the
// component that armed them. Components must call Stop on conversation
// switch and on teardown so no timer outlives the state it mutates.
package timers

import (
	"sync"
	"time"
)

// Timer is a restartable one-shot timer around time.AfterFunc.
// The zero value is ready to use.
type Timer struct {
	mu sync.Mutex
	t  *time.Timer
}

// Arm schedules fn after d, replacing any previously scheduled call.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, fn)
}

// Stop cancels the pending call, if any. Safe to call repeatedly and on
// a timer that was never armed.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Set is a keyed collection of timers, one per conversation id.
type Set struct {
	mu     sync.Mutex
	timers map[string]*Timer
}

// NewSet creates an empty timer set.
func NewSet() *Set {
	return &Set{timers: make(map[string]*Timer)}
}

// Arm schedules fn after d under key, replacing any pending call for key.
func (s *Set) Arm(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	t, ok := s.timers[key]
	if !ok {
		t = &Timer{}
		s.timers[key] = t
	}
	s.mu.Unlock()
	t.Arm(d, fn)
}

// Stop cancels the pending call for key, if any.
func (s *Set) Stop(key string) {
	s.mu.Lock()
	t, ok := s.timers[key]
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// StopAll cancels every pending call in the set.
func (s *Set) StopAll() {
	s.mu.Lock()
	all := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		all = append(all, t)
	}
	s.mu.Unlock()
	for _, t := range all {
		t.Stop()
	}
}
