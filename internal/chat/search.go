package chat

import (
	"strings"

	"github.com/rmaia/chatsync/internal/wire"
)

// filterMessages returns the messages whose text contains the term,
// case-insensitively. An empty term matches everything. Attachment
// messages match on their reference, which is what the list renders.
func filterMessages(msgs []wire.Message, term string) []wire.Message {
	if term == "" {
		return msgs
	}
	needle := strings.ToLower(term)
	var out []wire.Message
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m.Payload()), needle) {
			out = append(out, m)
		}
	}
	return out
}
