package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmaia/chatsync/internal/wire"
	"go.uber.org/zap"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is a scripted connection: frames pushed on in are returned by
// ReadJSON, writes are recorded.
type fakeConn struct {
	in     chan wire.Frame
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []wire.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan wire.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case f := <-c.in:
		*v.(*wire.Frame) = f
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, v.(wire.Frame))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

func testConfig() Config {
	return Config{RetryAttempts: 2, RetryBackoff: 5 * time.Millisecond}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestOpenIsIdempotent(t *testing.T) {
	var dials atomic.Int32
	conn := newFakeConn()
	m := NewManager(func(string) (Conn, error) {
		dials.Add(1)
		return conn, nil
	}, testConfig(), zap.NewNop())

	m.Open("c1")
	m.Open("c1")
	waitFor(t, "channel ready", func() bool { return m.Ready("c1") })

	if got := dials.Load(); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}
	m.CloseAll()
}

func TestSendWithoutChannelFailsSilently(t *testing.T) {
	m := NewManager(func(string) (Conn, error) {
		return newFakeConn(), nil
	}, testConfig(), zap.NewNop())

	if m.Send("nope", wire.Frame{Type: wire.CmdSendMessage}) {
		t.Error("send on unopened conversation reported success")
	}
}

func TestCloseIsSafeOnClosedID(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(func(string) (Conn, error) { return conn, nil }, testConfig(), zap.NewNop())

	m.Open("c1")
	waitFor(t, "channel ready", func() bool { return m.Ready("c1") })
	m.Close("c1")
	m.Close("c1")
	m.Close("never-opened")

	if m.Send("c1", wire.Frame{Type: wire.CmdSendMessage}) {
		t.Error("send succeeded after close")
	}
}

func TestInOrderDispatchWithinChannel(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(func(string) (Conn, error) { return conn, nil }, testConfig(), zap.NewNop())

	var mu sync.Mutex
	var order []string
	m.SetCallbacks(Callbacks{
		Message: func(_ string, msg wire.Message) {
			mu.Lock()
			order = append(order, msg.ID)
			mu.Unlock()
		},
	})

	m.Open("c1")
	waitFor(t, "channel ready", func() bool { return m.Ready("c1") })

	for _, id := range []string{"m1", "m2", "m3"} {
		conn.in <- wire.Frame{
			Type:    wire.EventMessage,
			Message: &wire.Message{ID: id, ConversationID: "c1", Kind: wire.KindText},
		}
	}

	waitFor(t, "three messages", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := []string{"m1", "m2", "m3"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	m.CloseAll()
}

func TestReconnectAfterReadFailure(t *testing.T) {
	conns := make(chan *fakeConn, 2)
	first := newFakeConn()
	second := newFakeConn()
	conns <- first
	conns <- second

	var connected atomic.Int32
	m := NewManager(func(string) (Conn, error) {
		select {
		case c := <-conns:
			return c, nil
		default:
			return nil, errors.New("no more conns")
		}
	}, testConfig(), zap.NewNop())
	m.SetCallbacks(Callbacks{
		Connected: func(string) { connected.Add(1) },
	})

	m.Open("c1")
	waitFor(t, "first connect", func() bool { return connected.Load() == 1 })

	// Simulate a transport drop.
	_ = first.Close()

	waitFor(t, "reconnect", func() bool { return connected.Load() == 2 })
	waitFor(t, "ready again", func() bool { return m.Ready("c1") })
	m.CloseAll()
}

func TestRetriesExhaustedMarksChannelDead(t *testing.T) {
	var dials atomic.Int32
	var down atomic.Int32
	m := NewManager(func(string) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}, testConfig(), zap.NewNop())
	m.SetCallbacks(Callbacks{
		Down: func(string) { down.Add(1) },
	})

	m.Open("c1")
	waitFor(t, "down callback", func() bool { return down.Load() == 1 })

	if got := dials.Load(); got != 2 {
		t.Errorf("dialed %d times, want 2 (bounded retries)", got)
	}
	if m.Ready("c1") {
		t.Error("dead channel reported ready")
	}

	// The dead id is not stuck: an explicit Open dials again.
	m.Open("c1")
	waitFor(t, "second death", func() bool { return down.Load() == 2 })
	if got := dials.Load(); got != 4 {
		t.Errorf("dialed %d times total, want 4", got)
	}
}

func TestUnknownKindMessageDroppedNotFatal(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(func(string) (Conn, error) { return conn, nil }, testConfig(), zap.NewNop())

	var mu sync.Mutex
	var got []string
	m.SetCallbacks(Callbacks{
		Message: func(_ string, msg wire.Message) {
			mu.Lock()
			got = append(got, msg.ID)
			mu.Unlock()
		},
		History: func(_ string, msgs []wire.Message) {
			mu.Lock()
			for _, msg := range msgs {
				got = append(got, msg.ID)
			}
			mu.Unlock()
		},
	})

	m.Open("c1")
	waitFor(t, "channel ready", func() bool { return m.Ready("c1") })

	conn.in <- wire.Frame{
		Type:    wire.EventMessage,
		Message: &wire.Message{ID: "bad", ConversationID: "c1", Kind: wire.KindUnknown},
	}
	conn.in <- wire.Frame{
		Type: wire.EventHistory,
		Messages: []wire.Message{
			{ID: "h1", ConversationID: "c1", Kind: wire.KindText},
			{ID: "h2", ConversationID: "c1", Kind: wire.KindUnknown},
		},
	}
	conn.in <- wire.Frame{
		Type:    wire.EventMessage,
		Message: &wire.Message{ID: "m1", ConversationID: "c1", Kind: wire.KindText},
	}

	waitFor(t, "surviving messages", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "h1" || got[1] != "m1" {
		t.Errorf("dispatched = %v, want [h1 m1]", got)
	}
	if !m.Ready("c1") {
		t.Error("channel torn down by unknown kind")
	}
	m.CloseAll()
}

func TestRequestHistoryWritesCommandFrame(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(func(string) (Conn, error) { return conn, nil }, testConfig(), zap.NewNop())

	m.Open("c1")
	waitFor(t, "channel ready", func() bool { return m.Ready("c1") })

	if !m.RequestHistory("c1", "invoice") {
		t.Fatal("request-history reported failure")
	}

	waitFor(t, "frame written", func() bool { return len(conn.sent()) == 1 })
	f := conn.sent()[0]
	if f.Type != wire.CmdRequestHistory || f.ConversationID != "c1" || f.Search != "invoice" {
		t.Errorf("frame = %+v", f)
	}
	m.CloseAll()
}
