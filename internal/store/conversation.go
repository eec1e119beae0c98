package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, counterparty_id, counterparty_name, preview, last_activity, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counterparty_id = excluded.counterparty_id,
			counterparty_name = excluded.counterparty_name,
			preview = excluded.preview,
			last_activity = excluded.last_activity,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.CounterpartyID, c.CounterpartyName, c.Preview, c.LastActivity, c.UnreadCount, now)
	return err
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, counterparty_id, counterparty_name, preview, last_activity, unread_count
		FROM conversations
		ORDER BY last_activity DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CounterpartyID, &c.CounterpartyName, &c.Preview, &c.LastActivity, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, counterparty_id, counterparty_name, preview, last_activity, unread_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CounterpartyID, &c.CounterpartyName, &c.Preview, &c.LastActivity, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
