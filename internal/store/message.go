package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, kind, body, attachment_ref, outgoing, pending, created_at_ms, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			kind = excluded.kind,
			body = excluded.body,
			attachment_ref = excluded.attachment_ref,
			pending = excluded.pending`,
		m.ConversationID, m.MsgID, m.SenderID, m.Kind, m.Body, m.AttachmentRef, m.Outgoing, m.Pending, m.CreatedAt, now)
	return err
}

// DeleteMessage removes a message by its id within a conversation. Used
// when a pending entry is rolled back or replaced by its confirmed
// counterpart under a different id.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return err
}

// ListMessages returns messages for a conversation ordered by creation
// time ascending, ties broken by insertion order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, kind, body, attachment_ref, outgoing, pending, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at_ms ASC, id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Kind, &m.Body, &m.AttachmentRef, &m.Outgoing, &m.Pending, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
