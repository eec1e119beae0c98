package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second migrate reported changes")
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", SenderID: "u2", Kind: "text", Body: "v1", CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2", msgs[0].Body)
	}
}

func TestListMessagesOrderedAscending(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		{ConversationID: "c1", MsgID: "m2", CreatedAt: 2000, Kind: "text"},
		{ConversationID: "c1", MsgID: "m1", CreatedAt: 1000, Kind: "text"},
		{ConversationID: "c1", MsgID: "m3", CreatedAt: 3000, Kind: "text"},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"m1", "m2", "m3"}
	for i, w := range want {
		if msgs[i].MsgID != w {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].MsgID, w)
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "pending:x", Pending: true, Kind: "text", CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("c1", "pending:x"); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}
}

func TestConversationsOrderedByActivity(t *testing.T) {
	db := testDB(t)

	for _, c := range []Conversation{
		{ID: "a", LastActivity: 3000},
		{ID: "b", LastActivity: 2000},
		{ID: "c", LastActivity: 1000},
	} {
		if err := db.UpsertConversation(&c); err != nil {
			t.Fatal(err)
		}
	}
	// c becomes most recent.
	if err := db.UpsertConversation(&Conversation{ID: "c", LastActivity: 4000}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "a", "b"}
	for i, w := range want {
		if convs[i].ID != w {
			t.Errorf("convs[%d] = %q, want %q", i, convs[i].ID, w)
		}
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	e := &OutboxEntry{ClientMsgID: "pending:1", ConversationID: "c1", Kind: "text", Body: "hi"}
	if err := db.QueueOutbox(e); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "pending:1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSending("pending:1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("sending entry still listed as pending")
	}

	// Requeue puts it back in the drain set.
	if err := db.MarkOutboxQueued("pending:1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 1 {
		t.Errorf("requeued entry not pending")
	}

	if err := db.MarkOutboxFailed("pending:1", "boom"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("failed entry still pending")
	}
}
