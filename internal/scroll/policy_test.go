package scroll

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAtBottomTolerance(t *testing.T) {
	p := Policy{NearBottom: 80}

	atBottom := Viewport{Offset: 920, Height: 600, ContentHeight: 1520}
	if !p.AtBottom(atBottom) {
		t.Error("exact bottom not detected")
	}
	near := Viewport{Offset: 860, Height: 600, ContentHeight: 1520}
	if !p.AtBottom(near) {
		t.Error("near bottom (60px away) not within 80px tolerance")
	}
	far := Viewport{Offset: 100, Height: 600, ContentHeight: 1520}
	if p.AtBottom(far) {
		t.Error("scrolled-up viewport reported at bottom")
	}
}

func TestShouldAutoScroll(t *testing.T) {
	p := Policy{NearBottom: 80}
	scrolledUp := Viewport{Offset: 0, Height: 600, ContentHeight: 3000}
	nearBottom := Viewport{Offset: 2350, Height: 600, ContentHeight: 3000}

	cases := []struct {
		name string
		v    Viewport
		tr   Trigger
		want bool
	}{
		{"remote message while near bottom", nearBottom, TriggerRemote, true},
		{"remote message while scrolled up", scrolledUp, TriggerRemote, false},
		{"own send always scrolls", scrolledUp, TriggerLocalSend, true},
		{"forced always scrolls", scrolledUp, TriggerForced, true},
	}
	for _, tc := range cases {
		if got := p.ShouldAutoScroll(tc.v, tc.tr); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSettlerReappliesUntilHeightStabilizes(t *testing.T) {
	// Content grows twice after the initial render (two images load),
	// then stabilizes.
	heights := []int{1000, 1200, 1400, 1400, 1400, 1400, 1400, 1400}
	var reads atomic.Int32
	var applies atomic.Int32

	measure := func() int {
		i := int(reads.Add(1)) - 1
		if i >= len(heights) {
			i = len(heights) - 1
		}
		return heights[i]
	}
	s := NewSettler(measure, func() { applies.Add(1) }, 6, 5*time.Millisecond)

	s.Kick()
	time.Sleep(100 * time.Millisecond)

	// Kick applies once; two growth checks re-apply; the stable check
	// stops the sequence.
	if got := applies.Load(); got != 3 {
		t.Errorf("applies = %d, want 3", got)
	}
}

func TestSettlerStopsAtBudget(t *testing.T) {
	// Pathological content that never stabilizes.
	var h atomic.Int32
	var applies atomic.Int32
	measure := func() int { return int(h.Add(100)) }
	s := NewSettler(measure, func() { applies.Add(1) }, 3, 5*time.Millisecond)

	s.Kick()
	time.Sleep(100 * time.Millisecond)

	// Initial apply plus at most maxTries checks.
	if got := applies.Load(); got > 4 {
		t.Errorf("applies = %d, want <= 4 (bounded)", got)
	}
}

func TestSettlerCancel(t *testing.T) {
	var applies atomic.Int32
	var h atomic.Int32
	s := NewSettler(func() int { return int(h.Add(100)) }, func() { applies.Add(1) }, 5, 10*time.Millisecond)

	s.Kick()
	s.Cancel()
	base := applies.Load()

	time.Sleep(60 * time.Millisecond)
	if got := applies.Load(); got != base {
		t.Errorf("settler kept applying after cancel: %d -> %d", base, got)
	}
}
