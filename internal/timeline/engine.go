// Package timeline holds the message reconciliation engine: the single
// writer of conversation timelines and the conversation list. It merges
// optimistic local sends with server-confirmed live and history traffic
// into one ordered, de-duplicated timeline per conversation.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/rmaia/chatsync/internal/bus"
	"github.com/rmaia/chatsync/internal/store"
	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Conversation is a list entry as held in memory. Staged marks entries
// learned only from inbound traffic that the server's conversation list
// has not yet confirmed (e.g. a counterparty starting a brand-new chat).
type Conversation struct {
	ID               string
	CounterpartyID   string
	CounterpartyName string
	Preview          string
	LastActivity     int64
	Unread           int
	Staged           bool
}

// Draft is the input for an optimistic send.
type Draft struct {
	ConversationID string
	Kind           wire.Kind
	Text           string
	AttachmentRef  string
}

// Engine reconciles timelines and orders the conversation list. All state
// mutation goes through its mutex; channel read loops, outbox drains, and
// facade calls may touch it concurrently but each operation is atomic.
//
// The engine deliberately knows nothing about which conversation is
// active: unread bookkeeping is cleared by the facade on selection, and
// stale history filtering happens before ApplyHistory is called.
type Engine struct {
	mu        sync.Mutex
	selfID    string
	db        *store.DB // optional write-through cache, may be nil
	bus       *bus.Bus
	logger    *zap.Logger
	timelines map[string][]wire.Message
	order     []*Conversation // most recent first
	index     map[string]*Conversation
}

// NewEngine creates a reconciliation engine for the given local user id.
// db may be nil, in which case nothing is persisted.
func NewEngine(selfID string, db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		selfID:    selfID,
		db:        db,
		bus:       b,
		logger:    logger,
		timelines: make(map[string][]wire.Message),
		index:     make(map[string]*Conversation),
	}
}

// Load hydrates the conversation list from the cache.
func (e *Engine) Load() error {
	if e.db == nil {
		return nil
	}
	cached, err := e.db.ListConversations(0)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, c := range cached {
		if _, ok := e.index[c.ID]; ok {
			continue
		}
		conv := &Conversation{
			ID:               c.ID,
			CounterpartyID:   c.CounterpartyID,
			CounterpartyName: c.CounterpartyName,
			Preview:          c.Preview,
			LastActivity:     c.LastActivity,
			Unread:           c.UnreadCount,
		}
		e.index[c.ID] = conv
		e.order = append(e.order, conv)
	}
	e.sortByActivityLocked()
	e.mu.Unlock()
	return nil
}

// HydrateTimeline loads the cached timeline for a conversation if it is
// not already in memory.
func (e *Engine) HydrateTimeline(conversationID string) error {
	if e.db == nil {
		return nil
	}
	e.mu.Lock()
	_, loaded := e.timelines[conversationID]
	e.mu.Unlock()
	if loaded {
		return nil
	}
	cached, err := e.db.ListMessages(conversationID, 0)
	if err != nil {
		return err
	}
	msgs := make([]wire.Message, 0, len(cached))
	for _, m := range cached {
		msgs = append(msgs, fromStored(m))
	}
	e.mu.Lock()
	if _, loaded := e.timelines[conversationID]; !loaded {
		e.timelines[conversationID] = msgs
	}
	e.mu.Unlock()
	return nil
}

// ApplyLive merges a single server-confirmed live message into its
// conversation's timeline. Re-delivery of an already-applied id is a
// no-op. As a side effect the conversation's preview is updated and the
// conversation is spliced to the front of the list.
func (e *Engine) ApplyLive(msg wire.Message) {
	e.mu.Lock()
	tl := e.timelines[msg.ConversationID]

	// Redelivery of an already-applied confirmed id is a no-op. This runs
	// before pending replacement: a redelivered frame must never consume a
	// second pending entry that happens to carry the same payload.
	for _, entry := range tl {
		if entry.ID == msg.ID {
			e.mu.Unlock()
			return
		}
	}

	// A confirmed echo of one of our optimistic sends replaces the
	// pending entry rather than joining it.
	var replaced string
	if msg.SenderID == e.selfID {
		for i, entry := range tl {
			if IsPendingID(entry.ID) && matches(entry, msg) {
				replaced = entry.ID
				tl = append(tl[:i], tl[i+1:]...)
				break
			}
		}
	}

	tl = append(tl, msg)
	sortTimeline(tl)
	e.timelines[msg.ConversationID] = tl
	e.touchLocked(msg)
	conv := *e.index[msg.ConversationID]
	e.mu.Unlock()

	if e.db != nil {
		if replaced != "" {
			if err := e.db.DeleteMessage(msg.ConversationID, replaced); err != nil {
				e.logger.Warn("cache delete failed", zap.Error(err), zap.String("msg_id", replaced))
			}
		}
		e.persistMessage(msg, false)
		e.persistConversation(conv)
	}

	e.bus.Emit(bus.KindTimelineUpdated, msg.ConversationID)
	e.bus.Emit(bus.KindListChanged, msg.ConversationID)
}

// ApplyHistory replaces a conversation's timeline with the server's
// message list, keeping any optimistic entries the history does not yet
// confirm. Applying identical history twice yields identical timelines.
func (e *Engine) ApplyHistory(conversationID string, serverMsgs []wire.Message) {
	e.mu.Lock()
	tl := e.timelines[conversationID]

	var kept []wire.Message
	var dropped []string
	for _, entry := range tl {
		if !IsPendingID(entry.ID) {
			continue
		}
		confirmed := false
		for _, sm := range serverMsgs {
			if matches(entry, sm) {
				confirmed = true
				break
			}
		}
		if confirmed {
			dropped = append(dropped, entry.ID)
		} else {
			kept = append(kept, entry)
		}
	}

	merged := make([]wire.Message, 0, len(serverMsgs)+len(kept))
	seen := make(map[string]struct{}, len(serverMsgs))
	for _, sm := range serverMsgs {
		if sm.ID != "" {
			if _, dup := seen[sm.ID]; dup {
				continue
			}
			seen[sm.ID] = struct{}{}
		}
		merged = append(merged, sm)
	}
	merged = append(merged, kept...)
	sortTimeline(merged)
	e.timelines[conversationID] = merged

	if conv, ok := e.index[conversationID]; ok && len(merged) > 0 {
		last := merged[len(merged)-1]
		if last.CreatedAt >= conv.LastActivity {
			conv.LastActivity = last.CreatedAt
			conv.Preview = last.Payload()
		}
		e.sortByActivityLocked()
	}
	var snapshot *Conversation
	if conv, ok := e.index[conversationID]; ok {
		c := *conv
		snapshot = &c
	}
	e.mu.Unlock()

	if e.db != nil {
		for _, id := range dropped {
			if err := e.db.DeleteMessage(conversationID, id); err != nil {
				e.logger.Warn("cache delete failed", zap.Error(err), zap.String("msg_id", id))
			}
		}
		for _, sm := range serverMsgs {
			e.persistMessage(sm, false)
		}
		if snapshot != nil {
			e.persistConversation(*snapshot)
		}
	}

	e.bus.Emit(bus.KindTimelineUpdated, conversationID)
	e.bus.Emit(bus.KindListChanged, conversationID)
}

// ApplyOptimistic appends a pending entry for a local send and returns it.
// The caller keeps the placeholder id so the entry can be rolled back if
// the send or upload fails.
func (e *Engine) ApplyOptimistic(d Draft) wire.Message {
	msg := wire.Message{
		ID:             NewPendingID(),
		ConversationID: d.ConversationID,
		SenderID:       e.selfID,
		Kind:           d.Kind,
		Text:           d.Text,
		AttachmentRef:  d.AttachmentRef,
		CreatedAt:      time.Now().UnixMilli(),
	}

	e.mu.Lock()
	tl := append(e.timelines[msg.ConversationID], msg)
	sortTimeline(tl)
	e.timelines[msg.ConversationID] = tl
	e.touchLocked(msg)
	conv := *e.index[msg.ConversationID]
	e.mu.Unlock()

	if e.db != nil {
		e.persistMessage(msg, true)
		e.persistConversation(conv)
	}

	e.bus.Emit(bus.KindTimelineUpdated, msg.ConversationID)
	e.bus.Emit(bus.KindListChanged, msg.ConversationID)
	return msg
}

// Rollback removes a pending entry after a failed send or upload.
// Confirmed ids are never rolled back; the server's version wins.
func (e *Engine) Rollback(conversationID, placeholderID string) {
	if !IsPendingID(placeholderID) {
		e.logger.Warn("rollback refused for confirmed id", zap.String("msg_id", placeholderID))
		return
	}

	e.mu.Lock()
	tl := e.timelines[conversationID]
	removed := false
	for i, entry := range tl {
		if entry.ID == placeholderID {
			e.timelines[conversationID] = append(tl[:i], tl[i+1:]...)
			removed = true
			break
		}
	}
	e.mu.Unlock()

	if !removed {
		return
	}
	if e.db != nil {
		if err := e.db.DeleteMessage(conversationID, placeholderID); err != nil {
			e.logger.Warn("cache delete failed", zap.Error(err), zap.String("msg_id", placeholderID))
		}
	}
	e.bus.Emit(bus.KindTimelineUpdated, conversationID)
}

// SetConversations merges the server's conversation list into the engine.
// Entries learned from live traffic keep their fresher preview and unread
// state; staged entries named by the list stop being staged; staged
// entries the list does not know yet are kept.
func (e *Engine) SetConversations(list []Conversation) {
	e.mu.Lock()
	next := make([]*Conversation, 0, len(list))
	nextIndex := make(map[string]*Conversation, len(list))
	for _, incoming := range list {
		c := incoming
		c.Staged = false
		if existing, ok := e.index[c.ID]; ok {
			if existing.LastActivity > c.LastActivity {
				c.LastActivity = existing.LastActivity
				c.Preview = existing.Preview
			}
			c.Unread = existing.Unread
		}
		next = append(next, &c)
		nextIndex[c.ID] = &c
	}
	for _, existing := range e.order {
		if _, ok := nextIndex[existing.ID]; !ok && existing.Staged {
			next = append(next, existing)
			nextIndex[existing.ID] = existing
		}
	}
	e.order = next
	e.index = nextIndex
	e.sortByActivityLocked()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if e.db != nil {
		for _, c := range snapshot {
			e.persistConversation(c)
		}
	}
	e.bus.Emit(bus.KindListChanged, "")
}

// ClearUnread zeroes a conversation's unread counter.
func (e *Engine) ClearUnread(conversationID string) {
	e.mu.Lock()
	conv, ok := e.index[conversationID]
	var snapshot Conversation
	if ok && conv.Unread != 0 {
		conv.Unread = 0
		snapshot = *conv
	} else {
		ok = false
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	if e.db != nil {
		e.persistConversation(snapshot)
	}
	e.bus.Emit(bus.KindListChanged, conversationID)
}

// Timeline returns a copy of the conversation's reconciled timeline.
func (e *Engine) Timeline(conversationID string) []wire.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl := e.timelines[conversationID]
	out := make([]wire.Message, len(tl))
	copy(out, tl)
	return out
}

// Conversations returns a copy of the ordered conversation list.
func (e *Engine) Conversations() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Conversation {
	out := make([]Conversation, len(e.order))
	for i, c := range e.order {
		out[i] = *c
	}
	return out
}

// touchLocked updates preview/activity for the message's conversation and
// splices it to the front of the list, creating a staged entry when the
// conversation is unknown. Inbound messages bump the unread counter; the
// facade clears it when the conversation is (or becomes) active.
func (e *Engine) touchLocked(msg wire.Message) {
	conv, ok := e.index[msg.ConversationID]
	if !ok {
		conv = &Conversation{ID: msg.ConversationID, Staged: true}
		if msg.SenderID != e.selfID {
			conv.CounterpartyID = msg.SenderID
		}
		e.index[msg.ConversationID] = conv
		e.order = append(e.order, conv)
	}
	conv.Preview = msg.Payload()
	if msg.CreatedAt > conv.LastActivity {
		conv.LastActivity = msg.CreatedAt
	}
	if msg.SenderID != e.selfID {
		conv.Unread++
	}

	// Total reorder: splice out, reinsert at the front.
	for i, c := range e.order {
		if c.ID == conv.ID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.order = append([]*Conversation{conv}, e.order...)
}

func (e *Engine) sortByActivityLocked() {
	sort.SliceStable(e.order, func(i, j int) bool {
		return e.order[i].LastActivity > e.order[j].LastActivity
	})
}

// sortTimeline orders by creation time ascending; entries with equal
// timestamps keep their insertion order.
func sortTimeline(tl []wire.Message) {
	sort.SliceStable(tl, func(i, j int) bool {
		return tl[i].CreatedAt < tl[j].CreatedAt
	})
}

func (e *Engine) persistMessage(msg wire.Message, pending bool) {
	if err := e.db.UpsertMessage(toStored(msg, msg.SenderID == e.selfID, pending)); err != nil {
		e.logger.Warn("cache write failed", zap.Error(err), zap.String("msg_id", msg.ID))
	}
}

func (e *Engine) persistConversation(c Conversation) {
	err := e.db.UpsertConversation(&store.Conversation{
		ID:               c.ID,
		CounterpartyID:   c.CounterpartyID,
		CounterpartyName: c.CounterpartyName,
		Preview:          c.Preview,
		LastActivity:     c.LastActivity,
		UnreadCount:      c.Unread,
	})
	if err != nil {
		e.logger.Warn("cache write failed", zap.Error(err), zap.String("conversation", c.ID))
	}
}

func toStored(msg wire.Message, outgoing, pending bool) *store.Message {
	return &store.Message{
		ConversationID: msg.ConversationID,
		MsgID:          msg.ID,
		SenderID:       msg.SenderID,
		Kind:           msg.Kind.String(),
		Body:           msg.Text,
		AttachmentRef:  msg.AttachmentRef,
		Outgoing:       outgoing,
		Pending:        pending,
		CreatedAt:      msg.CreatedAt,
	}
}

func fromStored(m store.Message) wire.Message {
	kind, err := wire.ParseKind(m.Kind)
	if err != nil {
		kind = wire.KindText
	}
	return wire.Message{
		ID:             m.MsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           kind,
		Text:           m.Body,
		AttachmentRef:  m.AttachmentRef,
		CreatedAt:      m.CreatedAt,
	}
}
