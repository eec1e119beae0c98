// Package presence derives short-lived typing state per conversation:
// debounced typing signals for the local user, and a remote indicator
// with a fallback timer covering lost stop signals.
package presence

import (
	"sync"
	"time"

	"github.com/rmaia/chatsync/internal/bus"
	"github.com/rmaia/chatsync/internal/timers"
)

// Config holds the two timing knobs. LocalIdle is how long after the last
// keystroke the stop signal goes out; RemoteHold is how long a remote
// typing indicator survives without an explicit stop.
type Config struct {
	LocalIdle  time.Duration
	RemoteHold time.Duration
}

// DefaultConfig matches the profile config defaults.
func DefaultConfig() Config {
	return Config{LocalIdle: 2 * time.Second, RemoteHold: 3 * time.Second}
}

// Signaler sends a typing start/stop signal for the local user on a
// conversation's channel.
type Signaler func(conversationID string, typing bool)

// TypingChange is the bus payload for presence.typing_changed events.
type TypingChange struct {
	ConversationID string
	Typing         bool
}

// Tracker is the per-conversation idle→typing→idle state machine.
type Tracker struct {
	selfID string
	cfg    Config
	signal Signaler
	bus    *bus.Bus

	mu          sync.Mutex
	localActive map[string]bool
	remote      map[string]bool

	debounce *timers.Set
	fallback *timers.Set
}

// NewTracker creates a tracker for the given local user id.
func NewTracker(selfID string, cfg Config, signal Signaler, b *bus.Bus) *Tracker {
	if cfg.LocalIdle <= 0 {
		cfg.LocalIdle = DefaultConfig().LocalIdle
	}
	if cfg.RemoteHold <= 0 {
		cfg.RemoteHold = DefaultConfig().RemoteHold
	}
	return &Tracker{
		selfID:      selfID,
		cfg:         cfg,
		signal:      signal,
		bus:         b,
		localActive: make(map[string]bool),
		remote:      make(map[string]bool),
		debounce:    timers.NewSet(),
		fallback:    timers.NewSet(),
	}
}

// InputActivity records a local input mutation for the active
// conversation. The first keystroke signals typing-start; each further
// one pushes back the debounced typing-stop.
func (t *Tracker) InputActivity(conversationID string) {
	t.mu.Lock()
	first := !t.localActive[conversationID]
	t.localActive[conversationID] = true
	t.mu.Unlock()

	if first {
		t.signal(conversationID, true)
	}
	t.debounce.Arm(conversationID, t.cfg.LocalIdle, func() {
		t.stopLocal(conversationID)
	})
}

// MessageSent signals typing-stop immediately, skipping the debounce.
func (t *Tracker) MessageSent(conversationID string) {
	t.debounce.Stop(conversationID)
	t.stopLocal(conversationID)
}

func (t *Tracker) stopLocal(conversationID string) {
	t.mu.Lock()
	active := t.localActive[conversationID]
	if active {
		t.localActive[conversationID] = false
	}
	t.mu.Unlock()
	if active {
		t.signal(conversationID, false)
	}
}

// RemoteStart handles an inbound typing-start. Signals echoing the local
// user's own id are ignored. The fallback timer clears the indicator if
// the counterpart's stop signal is lost.
func (t *Tracker) RemoteStart(conversationID, senderID string) {
	if senderID == t.selfID {
		return
	}
	t.mu.Lock()
	changed := !t.remote[conversationID]
	t.remote[conversationID] = true
	t.mu.Unlock()

	t.fallback.Arm(conversationID, t.cfg.RemoteHold, func() {
		t.clearRemote(conversationID)
	})
	if changed {
		t.bus.Emit(bus.KindTypingChanged, TypingChange{ConversationID: conversationID, Typing: true})
	}
}

// RemoteStop handles an inbound typing-stop, clearing the indicator
// immediately and disarming the fallback timer.
func (t *Tracker) RemoteStop(conversationID, senderID string) {
	if senderID == t.selfID {
		return
	}
	t.fallback.Stop(conversationID)
	t.clearRemote(conversationID)
}

func (t *Tracker) clearRemote(conversationID string) {
	t.mu.Lock()
	changed := t.remote[conversationID]
	if changed {
		t.remote[conversationID] = false
	}
	t.mu.Unlock()
	if changed {
		t.bus.Emit(bus.KindTypingChanged, TypingChange{ConversationID: conversationID, Typing: false})
	}
}

// RemoteTyping reports whether the counterparty is currently typing.
func (t *Tracker) RemoteTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote[conversationID]
}

// Reset clears all state and timers for one conversation. Called on
// conversation switch so nothing leaks into the next one.
func (t *Tracker) Reset(conversationID string) {
	t.debounce.Stop(conversationID)
	t.fallback.Stop(conversationID)
	t.mu.Lock()
	delete(t.localActive, conversationID)
	delete(t.remote, conversationID)
	t.mu.Unlock()
}

// Shutdown cancels every timer; used on daemon teardown.
func (t *Tracker) Shutdown() {
	t.debounce.StopAll()
	t.fallback.StopAll()
}
