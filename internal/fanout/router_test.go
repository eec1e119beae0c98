package fanout

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeChannels struct {
	mu   sync.Mutex
	open map[string]int // open count per id; 0 or absent = closed
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{open: make(map[string]int)}
}

func (f *fakeChannels) Open(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirrors the transport manager: opening an open id is a no-op.
	if f.open[id] == 0 {
		f.open[id] = 1
	}
}

func (f *fakeChannels) Close(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
}

func (f *fakeChannels) isOpen(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[id] > 0
}

func (f *fakeChannels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func TestSyncListOpensAndClosesDiffs(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	r.SyncList([]string{"a", "b", "c"})
	if ch.count() != 3 {
		t.Fatalf("open channels = %d, want 3", ch.count())
	}

	r.SyncList([]string{"b", "c", "d"})
	if ch.isOpen("a") {
		t.Error("delisted conversation still has a channel")
	}
	if !ch.isOpen("d") {
		t.Error("newly listed conversation has no channel")
	}
	if ch.count() != 3 {
		t.Errorf("open channels = %d, want 3", ch.count())
	}
}

func TestAtMostOneChannelPerConversation(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	r.SyncList([]string{"a", "b"})
	r.SetActive("a")
	r.SyncList([]string{"a", "b"})

	if got := ch.count(); got != 2 {
		t.Errorf("open channels = %d, want 2 (no duplicate for active)", got)
	}
}

func TestActivationTransfersOwnership(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	r.SyncList([]string{"a", "b"})
	r.SetActive("a")
	if !ch.isOpen("a") {
		t.Fatal("active conversation lost its channel")
	}

	// Switching active hands "a" back to the fan-out; it stays open
	// because it is still listed.
	r.SetActive("b")
	if !ch.isOpen("a") || !ch.isOpen("b") {
		t.Error("ownership transfer closed a listed channel")
	}
}

func TestDeactivatedUnlistedConversationCloses(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	// A brand-new conversation, active but not yet in the list.
	r.SetActive("fresh")
	if !ch.isOpen("fresh") {
		t.Fatal("active conversation has no channel")
	}

	r.SetActive("other")
	if ch.isOpen("fresh") {
		t.Error("unlisted conversation kept its channel after deactivation")
	}
}

func TestActiveChannelSurvivesDelisting(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	r.SyncList([]string{"a", "b"})
	r.SetActive("a")
	r.SyncList([]string{"b"})

	if !ch.isOpen("a") {
		t.Error("active channel closed by list sync")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	ch := newFakeChannels()
	r := NewRouter(ch, zap.NewNop())

	r.SyncList([]string{"a", "b"})
	r.SetActive("fresh")
	r.Shutdown()

	if ch.count() != 0 {
		t.Errorf("open channels after shutdown = %d, want 0", ch.count())
	}
}
