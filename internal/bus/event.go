package bus

import "time"

// Event kinds published in this repository, by namespace:
//
//	channel.*      raw transport lifecycle (connected, down, error)
//	timeline.*     reconciled timeline changes per conversation
//	conversation.* conversation list changes (order, previews, unread)
//	presence.*     remote typing indicator changes
//	status.*       connection state machine transitions
//	outbox.*       send acknowledgements and failures
//	scroll.*       auto-scroll requests for the active viewport
const (
	KindChannelConnected = "channel.connected"
	KindChannelDown      = "channel.down"
	KindChannelError     = "channel.error"

	KindTimelineUpdated = "timeline.updated"
	KindListChanged     = "conversation.list_changed"

	KindTypingChanged = "presence.typing_changed"

	KindStatusChanged = "status.changed"

	KindSendQueued = "outbox.queued"
	KindSendFailed = "outbox.send_failed"
	KindSendDone   = "outbox.sent"

	KindScrollToBottom = "scroll.to_bottom"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
