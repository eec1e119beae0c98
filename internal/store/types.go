package store

// Conversation is a cached conversation list entry.
type Conversation struct {
	ID               string
	CounterpartyID   string
	CounterpartyName string
	Preview          string
	LastActivity     int64
	UnreadCount      int
}

// Message is a cached timeline entry. Pending marks optimistic entries
// whose msg_id is a client placeholder rather than a server id.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Kind           string
	Body           string
	AttachmentRef  string
	Outgoing       bool
	Pending        bool
	CreatedAt      int64
}

// OutboxEntry is a queued outgoing message awaiting transport.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Kind           string
	Body           string
	AttachmentRef  string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
}
