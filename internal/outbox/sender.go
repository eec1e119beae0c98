// Package outbox drains queued outgoing messages through the transport.
// Sends survive restarts and offline periods: a queued entry waits until
// its conversation's channel is ready, and a failed write rolls the
// optimistic timeline entry back instead of leaving a ghost.
package outbox

import (
	"context"
	"time"

	"github.com/rmaia/chatsync/internal/bus"
	"github.com/rmaia/chatsync/internal/store"
	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Transport is the channel surface the sender needs.
type Transport interface {
	Ready(conversationID string) bool
	Send(conversationID string, f wire.Frame) bool
}

// Timelines is the rollback surface of the reconciliation engine.
type Timelines interface {
	Rollback(conversationID, placeholderID string)
}

// Sender polls the outbox and pushes pending entries onto their channels.
type Sender struct {
	db        *store.DB
	transport Transport
	timelines Timelines
	selfID    string
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration
	cancel    context.CancelFunc
}

// NewSender creates an outbox sender for the given local user id.
func NewSender(db *store.DB, transport Transport, timelines Timelines, selfID string, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		transport: transport,
		timelines: timelines,
		selfID:    selfID,
		bus:       b,
		logger:    logger,
		interval:  500 * time.Millisecond,
	}
}

// Start begins polling the outbox for pending messages. Entries a
// previous run left in 'sending' are requeued first.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Error("failed to requeue interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain()
		case <-ctx.Done():
			return
		}
	}
}

// Drain processes every queued entry once. Entries whose channel is not
// ready stay queued and wait for reconnect; a write failure on a ready
// channel is a real failure and rolls the optimistic entry back.
func (s *Sender) Drain() {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if !s.transport.Ready(entry.ConversationID) {
			continue
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		kind, err := wire.ParseKind(entry.Kind)
		if err != nil {
			s.logger.Error("unsendable outbox entry", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.timelines.Rollback(entry.ConversationID, entry.ClientMsgID)
			continue
		}

		frame := wire.SendMessage(wire.Message{
			ConversationID: entry.ConversationID,
			SenderID:       s.selfID,
			Kind:           kind,
			Text:           entry.Body,
			AttachmentRef:  entry.AttachmentRef,
		})
		if !s.transport.Send(entry.ConversationID, frame) {
			s.logger.Warn("send failed, rolling back",
				zap.String("client_msg_id", entry.ClientMsgID),
				zap.String("conversation", entry.ConversationID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, "channel write failed")
			s.timelines.Rollback(entry.ConversationID, entry.ClientMsgID)
			s.bus.Emit(bus.KindSendFailed, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"conversation":  entry.ConversationID,
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.bus.Emit(bus.KindSendDone, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"conversation":  entry.ConversationID,
		})
	}
}
