package timeline

import (
	"testing"
	"time"

	"github.com/rmaia/chatsync/internal/wire"
)

func TestBucketsSplitOnDayBoundary(t *testing.T) {
	loc := time.UTC
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, loc)
	day2 := time.Date(2026, 3, 2, 0, 10, 0, 0, loc)

	msgs := []wire.Message{
		{ID: "a", CreatedAt: day1.UnixMilli()},
		{ID: "b", CreatedAt: day1.Add(5 * time.Minute).UnixMilli()},
		{ID: "c", CreatedAt: day2.UnixMilli()},
	}

	buckets := Buckets(msgs, loc)
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}
	if len(buckets[0].Messages) != 2 || len(buckets[1].Messages) != 1 {
		t.Errorf("bucket sizes = %d/%d, want 2/1", len(buckets[0].Messages), len(buckets[1].Messages))
	}
	if !buckets[1].Day.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)) {
		t.Errorf("second bucket day = %v", buckets[1].Day)
	}
}

func TestBucketsEmpty(t *testing.T) {
	if got := Buckets(nil, time.UTC); got != nil {
		t.Errorf("Buckets(nil) = %v, want nil", got)
	}
}
