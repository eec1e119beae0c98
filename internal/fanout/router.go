// Package fanout keeps a passive listening channel open for every
// conversation in the contact list so previews and ordering stay live
// without the user opening each conversation. The active conversation's
// channel is the same underlying transport channel; activation only
// transfers ownership between the active side and the fan-out.
package fanout

import (
	"sync"

	"go.uber.org/zap"
)

// Channels is the slice of the transport manager the router drives. The
// manager's Open is idempotent, which is what upholds the at-most-one
// channel per conversation invariant across the active/passive split.
type Channels interface {
	Open(conversationID string)
	Close(conversationID string)
}

// Router tracks which conversation ids hold a channel and why.
type Router struct {
	channels Channels
	logger   *zap.Logger

	mu     sync.Mutex
	active string
	known  map[string]struct{} // ids currently in the conversation list
}

// NewRouter creates a router over the given channel manager.
func NewRouter(channels Channels, logger *zap.Logger) *Router {
	return &Router{
		channels: channels,
		logger:   logger,
		known:    make(map[string]struct{}),
	}
}

// SyncList reconciles open channels against the current conversation
// list: newly listed ids get a channel, delisted ids lose theirs. The
// active conversation's channel is never closed here even if delisted;
// it belongs to the active side until deactivation.
func (r *Router) SyncList(ids []string) {
	r.mu.Lock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	var toOpen, toClose []string
	for id := range next {
		if _, had := r.known[id]; !had && id != r.active {
			toOpen = append(toOpen, id)
		}
	}
	for id := range r.known {
		if _, still := next[id]; !still && id != r.active {
			toClose = append(toClose, id)
		}
	}
	r.known = next
	r.mu.Unlock()

	for _, id := range toOpen {
		r.channels.Open(id)
	}
	for _, id := range toClose {
		r.channels.Close(id)
	}
	if len(toOpen)+len(toClose) > 0 {
		r.logger.Debug("fanout reconciled",
			zap.Int("opened", len(toOpen)),
			zap.Int("closed", len(toClose)))
	}
}

// SetActive transfers channel ownership in one step: the new active
// conversation gets a channel (a no-op if the fan-out already holds one),
// and the previous active's channel either returns to the fan-out or is
// closed when the list no longer contains it.
func (r *Router) SetActive(conversationID string) {
	r.mu.Lock()
	old := r.active
	r.active = conversationID
	_, oldStillListed := r.known[old]
	r.mu.Unlock()

	if old == conversationID {
		return
	}
	if conversationID != "" {
		r.channels.Open(conversationID)
	}
	if old != "" && !oldStillListed {
		r.channels.Close(old)
	}
}

// Active returns the currently active conversation id.
func (r *Router) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Shutdown closes every channel the router is responsible for.
func (r *Router) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.known)+1)
	for id := range r.known {
		ids = append(ids, id)
	}
	if r.active != "" {
		if _, listed := r.known[r.active]; !listed {
			ids = append(ids, r.active)
		}
	}
	r.active = ""
	r.known = make(map[string]struct{})
	r.mu.Unlock()

	for _, id := range ids {
		r.channels.Close(id)
	}
}
