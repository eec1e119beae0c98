// Package wire defines the JSON frame protocol spoken on a conversation
// channel. Each channel is bound to exactly one conversation at connect
// time; frames therefore carry the conversation id redundantly so that
// multiplexed consumers never have to track which socket produced them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound event types.
const (
	EventMessage     = "message-received"
	EventHistory     = "history"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
	EventError       = "connection-error"
)

// Outbound command types.
const (
	CmdSendMessage    = "send-message"
	CmdRequestHistory = "request-history"
	CmdTypingStart    = "typing-start"
	CmdTypingStop     = "typing-stop"
)

// Kind discriminates message payloads.
type Kind int

const (
	KindText Kind = iota
	KindAttachment

	// KindUnknown marks an unrecognized wire kind. Decoding tolerates it
	// so one unknown message never fails the whole frame and tears down
	// the channel; consumers drop such messages instead.
	KindUnknown Kind = -1
)

const (
	kindTextWire       = "text"
	kindAttachmentWire = "attachment"
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return kindTextWire
	case KindAttachment:
		return kindAttachmentWire
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts the wire string form back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case kindTextWire:
		return KindText, nil
	case kindAttachmentWire:
		return KindAttachment, nil
	}
	return KindText, fmt.Errorf("unknown message kind %q", s)
}

// MarshalJSON encodes the kind as its wire string.
func (k Kind) MarshalJSON() ([]byte, error) {
	switch k {
	case KindText, KindAttachment:
		return json.Marshal(k.String())
	}
	return nil, fmt.Errorf("unknown message kind %d", int(k))
}

// UnmarshalJSON decodes the wire string form. Unrecognized strings
// decode to KindUnknown rather than erroring.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case kindTextWire:
		*k = KindText
	case kindAttachmentWire:
		*k = KindAttachment
	default:
		*k = KindUnknown
	}
	return nil
}

// Message is a chat message as it appears on the wire. CreatedAt is unix
// milliseconds. ID is server-assigned for confirmed messages; the client
// substitutes a placeholder id for optimistic entries (see timeline).
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Kind           Kind   `json:"kind"`
	Text           string `json:"text,omitempty"`
	AttachmentRef  string `json:"attachmentRef,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

// Payload returns the preview-relevant payload for the message's kind.
func (m Message) Payload() string {
	switch m.Kind {
	case KindAttachment:
		return m.AttachmentRef
	default:
		return m.Text
	}
}

// Frame is the envelope for every inbound event and outbound command.
// Only the fields relevant to Type are populated.
type Frame struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
	Search         string    `json:"search,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// SendMessage builds a send-message command frame.
func SendMessage(msg Message) Frame {
	return Frame{
		Type:           CmdSendMessage,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Message:        &msg,
	}
}

// RequestHistory builds a request-history command frame. search is optional
// and empty means the full list.
func RequestHistory(conversationID, search string) Frame {
	return Frame{
		Type:           CmdRequestHistory,
		ConversationID: conversationID,
		Search:         search,
	}
}

// Typing builds a typing-start or typing-stop command frame.
func Typing(conversationID, senderID string, start bool) Frame {
	t := CmdTypingStop
	if start {
		t = CmdTypingStart
	}
	return Frame{
		Type:           t,
		ConversationID: conversationID,
		SenderID:       senderID,
	}
}
