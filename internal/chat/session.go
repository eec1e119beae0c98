// Package chat is the session facade: the single entry point the UI
// layer talks to. It wires transport events into the reconciliation
// engine, presence tracker, and status machine, and exposes the user
// actions (send, select, search, refresh) as plain methods.
package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rmaia/chatsync/internal/bus"
	"github.com/rmaia/chatsync/internal/config"
	"github.com/rmaia/chatsync/internal/fanout"
	"github.com/rmaia/chatsync/internal/presence"
	"github.com/rmaia/chatsync/internal/rest"
	"github.com/rmaia/chatsync/internal/scroll"
	"github.com/rmaia/chatsync/internal/status"
	"github.com/rmaia/chatsync/internal/store"
	"github.com/rmaia/chatsync/internal/timeline"
	"github.com/rmaia/chatsync/internal/transport"
	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Backend is the REST collaborator surface the session needs.
// *rest.Client satisfies it.
type Backend interface {
	CreateConversation(ctx context.Context, counterpartyID string) (string, error)
	ListConversations(ctx context.Context, sort string, page int, search string) ([]rest.ConversationPreview, error)
	UploadAttachment(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Deps collects the session's collaborators.
type Deps struct {
	Config    *config.Config
	Engine    *timeline.Engine
	Transport *transport.Manager
	Presence  *presence.Tracker
	Router    *fanout.Router
	Backend   Backend
	DB        *store.DB
	Status    *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// Session coordinates one profile's chat state. All methods are safe for
// concurrent use; transport callbacks run on channel read goroutines.
type Session struct {
	selfID    string
	engine    *timeline.Engine
	transport *transport.Manager
	presence  *presence.Tracker
	router    *fanout.Router
	backend   Backend
	db        *store.DB
	status    *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	policy    scroll.Policy
	settler   *scroll.Settler

	mu            sync.Mutex
	active        string
	viewport      scroll.Viewport
	historyLoaded map[string]bool
}

// NewSession creates the facade and registers the transport callbacks.
// Must run before any channel is opened.
func NewSession(d Deps) *Session {
	s := &Session{
		selfID:        d.Config.Identity.UserID,
		engine:        d.Engine,
		transport:     d.Transport,
		presence:      d.Presence,
		router:        d.Router,
		backend:       d.Backend,
		db:            d.DB,
		status:        d.Status,
		bus:           d.Bus,
		logger:        d.Logger,
		policy:        scroll.Policy{NearBottom: d.Config.Scroll.NearBottomPx},
		historyLoaded: make(map[string]bool),
	}
	s.settler = scroll.NewSettler(
		s.contentHeight,
		func() { s.bus.Emit(bus.KindScrollToBottom, s.Active()) },
		d.Config.Scroll.SettleChecks,
		time.Duration(d.Config.Scroll.SettleIntervalMs)*time.Millisecond,
	)

	d.Transport.SetCallbacks(transport.Callbacks{
		Message:     s.onMessage,
		History:     s.onHistory,
		TypingStart: s.presence.RemoteStart,
		TypingStop:  s.presence.RemoteStop,
		Connected:   s.onConnected,
		Error:       s.onError,
		Down:        s.onDown,
	})
	return s
}

// Start moves the status machine out of Booting and hydrates state from
// the cache and the backend.
func (s *Session) Start(ctx context.Context) error {
	if err := s.status.Transition(status.Connecting); err != nil {
		return err
	}
	if err := s.engine.Load(); err != nil {
		return fmt.Errorf("load cached conversations: %w", err)
	}
	if err := s.Refresh(ctx); err != nil {
		// Cached state still works offline; the next refresh heals it.
		s.logger.Warn("initial conversation refresh failed", zap.Error(err))
	}
	return nil
}

// Shutdown tears down timers and channels.
func (s *Session) Shutdown() {
	s.settler.Cancel()
	s.presence.Shutdown()
	s.router.Shutdown()
}

// --- transport events ---

func (s *Session) onMessage(conversationID string, msg wire.Message) {
	s.engine.ApplyLive(msg)
	if msg.SenderID != s.selfID {
		// A delivered message implies the sender stopped typing.
		s.presence.RemoteStop(conversationID, msg.SenderID)
	}

	if conversationID != s.Active() {
		return
	}
	s.engine.ClearUnread(conversationID)
	tr := scroll.TriggerRemote
	if msg.SenderID == s.selfID {
		tr = scroll.TriggerLocalSend
	}
	s.maybeScroll(tr)
}

// onHistory drops responses for conversations that are no longer active:
// a slow history answer from a previous selection must never repaint the
// current one.
func (s *Session) onHistory(conversationID string, msgs []wire.Message) {
	if conversationID != s.Active() {
		s.logger.Debug("dropping stale history response",
			zap.String("conversation", conversationID))
		return
	}
	s.engine.ApplyHistory(conversationID, msgs)
	s.mu.Lock()
	s.historyLoaded[conversationID] = true
	s.mu.Unlock()
	s.maybeScroll(scroll.TriggerForced)
}

func (s *Session) onConnected(conversationID string) {
	s.bus.Emit(bus.KindChannelConnected, conversationID)
	if conversationID == s.Active() {
		s.transitionQuiet(status.Ready)
		s.transport.RequestHistory(conversationID, "")
	}
}

func (s *Session) onError(conversationID, reason string) {
	s.logger.Warn("channel error",
		zap.String("conversation", conversationID),
		zap.String("reason", reason))
	s.bus.Emit(bus.KindChannelError, map[string]string{
		"conversation": conversationID,
		"reason":       reason,
	})
	if conversationID == s.Active() {
		s.transitionQuiet(status.Reconnecting)
	}
}

func (s *Session) onDown(conversationID string) {
	s.bus.Emit(bus.KindChannelDown, conversationID)
	if conversationID == s.Active() {
		s.transitionQuiet(status.Offline)
		return
	}
	s.transitionQuiet(status.Degraded)
}

// transitionQuiet attempts a status transition, treating an invalid one
// as a non-event. Channel callbacks race with each other; the machine's
// transition table is the arbiter.
func (s *Session) transitionQuiet(to status.State) {
	if err := s.status.Transition(to); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}

// --- user actions ---

// SendText queues a text message: optimistic timeline entry first, then
// the persistent outbox. The outbox sender delivers it when the channel
// is ready and rolls the entry back if delivery fails.
func (s *Session) SendText(conversationID, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty message")
	}
	msg := s.engine.ApplyOptimistic(timeline.Draft{
		ConversationID: conversationID,
		Kind:           wire.KindText,
		Text:           text,
	})
	if err := s.queue(msg); err != nil {
		return "", err
	}
	s.afterSend(conversationID)
	return msg.ID, nil
}

// SendAttachment uploads the file first, then queues the message with
// the returned reference. The optimistic entry carries the final ref so
// the server echo reconciles against it.
func (s *Session) SendAttachment(ctx context.Context, conversationID, filename string, r io.Reader) (string, error) {
	ref, err := s.backend.UploadAttachment(ctx, filename, r)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	msg := s.engine.ApplyOptimistic(timeline.Draft{
		ConversationID: conversationID,
		Kind:           wire.KindAttachment,
		AttachmentRef:  ref,
	})
	if err := s.queue(msg); err != nil {
		return "", err
	}
	s.afterSend(conversationID)
	return msg.ID, nil
}

func (s *Session) queue(msg wire.Message) error {
	err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    msg.ID,
		ConversationID: msg.ConversationID,
		Kind:           msg.Kind.String(),
		Body:           msg.Text,
		AttachmentRef:  msg.AttachmentRef,
	})
	if err != nil {
		s.engine.Rollback(msg.ConversationID, msg.ID)
		return fmt.Errorf("queue message: %w", err)
	}
	s.bus.Emit(bus.KindSendQueued, map[string]string{
		"client_msg_id": msg.ID,
		"conversation":  msg.ConversationID,
	})
	return nil
}

func (s *Session) afterSend(conversationID string) {
	s.presence.MessageSent(conversationID)
	if conversationID == s.Active() {
		s.maybeScroll(scroll.TriggerLocalSend)
	}
}

// SelectConversation switches the active conversation atomically:
// presence and the settle sequence of the previous one are cancelled
// before the new channel takes over.
func (s *Session) SelectConversation(conversationID string) error {
	s.mu.Lock()
	old := s.active
	if old == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.active = conversationID
	// The previous conversation's geometry must not feed the first
	// auto-scroll decision in the new one.
	s.viewport = scroll.Viewport{}
	s.mu.Unlock()

	if old != "" {
		s.presence.Reset(old)
	}
	s.settler.Cancel()
	s.router.SetActive(conversationID)
	if conversationID == "" {
		return nil
	}

	if s.status.Current() == status.Offline {
		s.transitionQuiet(status.Connecting)
	}
	s.engine.ClearUnread(conversationID)
	if err := s.engine.HydrateTimeline(conversationID); err != nil {
		s.logger.Warn("timeline hydrate failed", zap.Error(err),
			zap.String("conversation", conversationID))
	}
	// Best effort: a channel still connecting re-requests on Connected.
	s.transport.RequestHistory(conversationID, "")
	s.maybeScroll(scroll.TriggerForced)
	return nil
}

// Active returns the active conversation id, or "" when none is open.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Search filters the active conversation's messages by a case-insensitive
// substring. Once the full history has been loaded the filter runs
// locally; before that the term goes to the server with the history
// request.
func (s *Session) Search(term string) []wire.Message {
	active := s.Active()
	if active == "" {
		return nil
	}
	s.mu.Lock()
	loaded := s.historyLoaded[active]
	s.mu.Unlock()

	if !loaded {
		s.transport.RequestHistory(active, term)
	}
	return filterMessages(s.engine.Timeline(active), term)
}

// InputActivity records a keystroke in the active conversation's input.
func (s *Session) InputActivity() {
	if active := s.Active(); active != "" {
		s.presence.InputActivity(active)
	}
}

// StartConversation creates (or reuses) a conversation with the given
// counterparty, refreshes the list, and returns the conversation id.
func (s *Session) StartConversation(ctx context.Context, counterpartyID string) (string, error) {
	id, err := s.backend.CreateConversation(ctx, counterpartyID)
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after create failed", zap.Error(err))
	}
	return id, nil
}

// Refresh pulls the conversation list from the backend, merges it into
// the engine, and reconciles the passive fan-out channels.
func (s *Session) Refresh(ctx context.Context) error {
	previews, err := s.backend.ListConversations(ctx, "recent", 0, "")
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	list := make([]timeline.Conversation, 0, len(previews))
	for _, p := range previews {
		list = append(list, timeline.Conversation{
			ID:               p.ID,
			CounterpartyID:   p.CounterpartyID,
			CounterpartyName: p.CounterpartyName,
			Preview:          p.Preview,
			LastActivity:     p.LastActivity,
			Unread:           p.Unread,
		})
	}
	s.engine.SetConversations(list)

	convs := s.engine.Conversations()
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	s.router.SyncList(ids)
	return nil
}

// --- snapshots ---

// Timeline returns the reconciled timeline for a conversation.
func (s *Session) Timeline(conversationID string) []wire.Message {
	return s.engine.Timeline(conversationID)
}

// Conversations returns the ordered conversation list.
func (s *Session) Conversations() []timeline.Conversation {
	return s.engine.Conversations()
}

// RemoteTyping reports whether the counterparty in the given conversation
// is typing.
func (s *Session) RemoteTyping(conversationID string) bool {
	return s.presence.RemoteTyping(conversationID)
}

// Connected reports whether the session is fully usable.
func (s *Session) Connected() bool {
	return s.status.Connected()
}

// --- viewport ---

// SetViewport records the UI-reported scroll state of the active
// conversation's view.
func (s *Session) SetViewport(v scroll.Viewport) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
}

func (s *Session) contentHeight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport.ContentHeight
}

// maybeScroll applies the auto-scroll policy and, when it allows, kicks
// the settle sequence so late-loading attachments keep the view pinned.
func (s *Session) maybeScroll(tr scroll.Trigger) {
	s.mu.Lock()
	v := s.viewport
	s.mu.Unlock()
	if s.policy.ShouldAutoScroll(v, tr) {
		s.settler.Kick()
	}
}
