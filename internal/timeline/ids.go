package timeline

import (
	"strings"

	"github.com/google/uuid"
)

// pendingPrefix marks locally-generated placeholder ids. The server never
// issues ids with this prefix, so the two id spaces cannot collide.
const pendingPrefix = "pending:"

// NewPendingID returns a fresh placeholder id for an optimistic message.
func NewPendingID() string {
	return pendingPrefix + uuid.NewString()
}

// IsPendingID reports whether id is a client placeholder rather than a
// server-assigned id.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, pendingPrefix)
}
