package transport

import (
	"sync"
	"time"

	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

// channel is one live connection bound to a single conversation. It owns
// a read loop goroutine and reconnects automatically with fixed backoff;
// once the bounded attempts are exhausted the channel reports Down and
// stays dead until the manager opens the conversation again.
type channel struct {
	conversationID string
	dial           Dialer
	cb             Callbacks
	cfg            Config
	logger         *zap.Logger
	onDead         func(*channel)

	mu    sync.Mutex // guards conn/ready and serializes writes
	conn  Conn
	ready bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newChannel(conversationID string, dial Dialer, cb Callbacks, cfg Config, logger *zap.Logger, onDead func(*channel)) *channel {
	return &channel{
		conversationID: conversationID,
		dial:           dial,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
		onDead:         onDead,
		closed:         make(chan struct{}),
	}
}

// run drives connect, dispatch, and reconnect until the channel is closed
// or its retry budget is exhausted.
func (c *channel) run() {
	attempts := 0
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		conn, err := c.dial(c.conversationID)
		if err != nil {
			attempts++
			c.logger.Warn("channel connect failed",
				zap.String("conversation", c.conversationID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			if c.cb.Error != nil {
				c.cb.Error(c.conversationID, err.Error())
			}
			if attempts >= c.cfg.RetryAttempts {
				c.die()
				return
			}
			select {
			case <-c.closed:
				return
			case <-time.After(c.cfg.RetryBackoff):
			}
			continue
		}

		attempts = 0
		c.mu.Lock()
		c.conn = conn
		c.ready = true
		c.mu.Unlock()
		if c.cb.Connected != nil {
			c.cb.Connected(c.conversationID)
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.ready = false
		c.mu.Unlock()
		_ = conn.Close()

		select {
		case <-c.closed:
			return
		default:
		}
		attempts++
		if attempts >= c.cfg.RetryAttempts {
			c.die()
			return
		}
		select {
		case <-c.closed:
			return
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// readLoop dispatches frames in arrival order. Callbacks run on this
// goroutine, which is what guarantees in-order delivery per channel.
func (c *channel) readLoop(conn Conn) {
	for {
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("channel read failed",
					zap.String("conversation", c.conversationID),
					zap.Error(err))
				if c.cb.Error != nil {
					c.cb.Error(c.conversationID, err.Error())
				}
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *channel) dispatch(f wire.Frame) {
	convID := f.ConversationID
	if convID == "" {
		convID = c.conversationID
	}
	switch f.Type {
	case wire.EventMessage:
		if f.Message != nil && c.cb.Message != nil {
			msg := *f.Message
			if msg.Kind == wire.KindUnknown {
				c.logger.Debug("message with unknown kind dropped",
					zap.String("conversation", convID),
					zap.String("msg_id", msg.ID))
				return
			}
			if msg.ConversationID == "" {
				msg.ConversationID = convID
			}
			c.cb.Message(convID, msg)
		}
	case wire.EventHistory:
		if c.cb.History != nil {
			msgs := make([]wire.Message, 0, len(f.Messages))
			for _, m := range f.Messages {
				if m.Kind == wire.KindUnknown {
					continue
				}
				msgs = append(msgs, m)
			}
			c.cb.History(convID, msgs)
		}
	case wire.EventTypingStart:
		if c.cb.TypingStart != nil {
			c.cb.TypingStart(convID, f.SenderID)
		}
	case wire.EventTypingStop:
		if c.cb.TypingStop != nil {
			c.cb.TypingStop(convID, f.SenderID)
		}
	case wire.EventError:
		if c.cb.Error != nil {
			c.cb.Error(convID, f.Reason)
		}
	default:
		c.logger.Debug("unknown frame type dropped",
			zap.String("conversation", convID),
			zap.String("type", f.Type))
	}
}

// send writes a frame if the channel is connected and ready. It reports
// failure instead of raising so callers can roll back optimistic state.
func (c *channel) send(f wire.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.conn == nil {
		return false
	}
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Warn("channel write failed",
			zap.String("conversation", c.conversationID),
			zap.Error(err))
		return false
	}
	return true
}

func (c *channel) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// close tears the channel down. Safe to call repeatedly.
func (c *channel) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.ready = false
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *channel) die() {
	c.logger.Warn("channel dead, retries exhausted",
		zap.String("conversation", c.conversationID))
	if c.onDead != nil {
		c.onDead(c)
	}
	if c.cb.Down != nil {
		c.cb.Down(c.conversationID)
	}
}
