package timeline

import "github.com/rmaia/chatsync/internal/wire"

// matches reports whether a pending entry and a server-confirmed message
// represent the same logical send. Both must share the conversation (the
// caller guarantees this), the direction (sender id), and the kind; the
// payload comparison is by kind. Two messages of different kinds never
// match. Matching attachments by raw reference is a known approximation:
// a server that rewrites storage paths defeats it, and the next history
// apply resolves the leftover pending entry instead.
func matches(pending, confirmed wire.Message) bool {
	if pending.SenderID != confirmed.SenderID {
		return false
	}
	if pending.Kind != confirmed.Kind {
		return false
	}
	switch pending.Kind {
	case wire.KindText:
		return pending.Text == confirmed.Text
	case wire.KindAttachment:
		return pending.AttachmentRef == confirmed.AttachmentRef
	}
	return false
}
