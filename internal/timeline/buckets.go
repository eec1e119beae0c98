package timeline

import (
	"time"

	"github.com/rmaia/chatsync/internal/wire"
)

// DayBucket groups consecutive messages that share a calendar day.
// Buckets are a display concern only; the timeline itself stays flat.
type DayBucket struct {
	Day      time.Time
	Messages []wire.Message
}

// Buckets splits an ordered timeline into per-day groups in the given
// location. The input must already be sorted ascending.
func Buckets(msgs []wire.Message, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.Local
	}
	var out []DayBucket
	for _, m := range msgs {
		day := time.UnixMilli(m.CreatedAt).In(loc)
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		if n := len(out); n > 0 && out[n-1].Day.Equal(day) {
			out[n-1].Messages = append(out[n-1].Messages, m)
			continue
		}
		out = append(out, DayBucket{Day: day, Messages: []wire.Message{m}})
	}
	return out
}
