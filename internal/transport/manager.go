// Package transport owns the lifecycle of per-conversation socket
// channels. Nothing else in the repository opens or closes a channel;
// consumers observe events through Callbacks and issue commands through
// the Manager.
package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Conn is the connection surface the channel needs. *websocket.Conn
// satisfies it; tests substitute scripted connections.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a connection bound to one conversation id.
type Dialer func(conversationID string) (Conn, error)

// WebsocketDialer dials baseURL with the conversation id bound via the
// "conversation" query parameter, per the backend contract.
func WebsocketDialer(baseURL, token string) Dialer {
	return func(conversationID string) (Conn, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse socket url: %w", err)
		}
		q := u.Query()
		q.Set("conversation", conversationID)
		u.RawQuery = q.Encode()

		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.String(), err)
		}
		return conn, nil
	}
}

// Callbacks are invoked from channel read goroutines. Delivery is in-order
// within one conversation's channel; no ordering holds across channels.
// Callbacks must not block for long, and errors are reported here rather
// than returned: no failure propagates out of a transport event.
type Callbacks struct {
	Message     func(conversationID string, msg wire.Message)
	History     func(conversationID string, msgs []wire.Message)
	TypingStart func(conversationID, senderID string)
	TypingStop  func(conversationID, senderID string)
	Connected   func(conversationID string)
	Error       func(conversationID, reason string)
	Down        func(conversationID string)
}

// Config bounds the reconnect behavior. Backoff is fixed, not exponential.
type Config struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// DefaultConfig matches the profile config defaults.
func DefaultConfig() Config {
	return Config{RetryAttempts: 5, RetryBackoff: 2 * time.Second}
}

// Manager owns at most one channel per conversation id.
type Manager struct {
	dial   Dialer
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	cb       Callbacks
	channels map[string]*channel
}

// NewManager creates a channel manager. Callbacks are registered once via
// SetCallbacks before the first Open.
func NewManager(dial Dialer, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &Manager{
		dial:     dial,
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]*channel),
	}
}

// SetCallbacks registers the event callbacks. Must be called before Open.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Open establishes a channel for the conversation if none exists.
// Calling it again while one is open is a no-op.
func (m *Manager) Open(conversationID string) {
	m.mu.Lock()
	if _, exists := m.channels[conversationID]; exists {
		m.mu.Unlock()
		return
	}
	ch := newChannel(conversationID, m.dial, m.cb, m.cfg, m.logger, m.remove)
	m.channels[conversationID] = ch
	m.mu.Unlock()

	go ch.run()
}

// Close tears down the conversation's channel. Safe on an already-closed
// or never-opened id.
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	ch, exists := m.channels[conversationID]
	if exists {
		delete(m.channels, conversationID)
	}
	m.mu.Unlock()
	if exists {
		ch.close()
	}
}

// CloseAll tears down every channel; used on daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		all = append(all, ch)
	}
	m.channels = make(map[string]*channel)
	m.mu.Unlock()
	for _, ch := range all {
		ch.close()
	}
}

// Send writes a frame on the conversation's channel. Returns false when no
// open, ready channel exists or the write fails; it never panics so the
// caller can roll back optimistic state.
func (m *Manager) Send(conversationID string, f wire.Frame) bool {
	m.mu.Lock()
	ch, exists := m.channels[conversationID]
	m.mu.Unlock()
	if !exists {
		return false
	}
	return ch.send(f)
}

// RequestHistory asks the server to (re-)deliver the conversation's
// message list, optionally filtered by a substring search term.
func (m *Manager) RequestHistory(conversationID, search string) bool {
	return m.Send(conversationID, wire.RequestHistory(conversationID, search))
}

// SendTyping emits a typing start/stop signal for the local user.
func (m *Manager) SendTyping(conversationID, senderID string, start bool) bool {
	return m.Send(conversationID, wire.Typing(conversationID, senderID, start))
}

// Ready reports whether the conversation has a connected channel.
func (m *Manager) Ready(conversationID string) bool {
	m.mu.Lock()
	ch, exists := m.channels[conversationID]
	m.mu.Unlock()
	return exists && ch.isReady()
}

// remove drops a dead channel so a later Open can recreate it. The dying
// channel passes itself so a racing Close+Open pair never removes the
// replacement.
func (m *Manager) remove(dead *channel) {
	m.mu.Lock()
	if current, exists := m.channels[dead.conversationID]; exists && current == dead {
		delete(m.channels, dead.conversationID)
	}
	m.mu.Unlock()
}
