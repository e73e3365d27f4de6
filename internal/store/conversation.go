package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary. Empty name
// and avatar values never overwrite known ones.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (contact_id, name, avatar_url, online, unread_count,
			last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			online = excluded.online,
			unread_count = excluded.unread_count,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ContactID, c.Name, c.AvatarURL, c.Online, c.UnreadCount,
		c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// TouchConversation bumps a conversation's last-activity fields and unread
// count after a live message.
func (db *DB) TouchConversation(contactID, preview string, at int64, unread int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (contact_id, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		contactID, unread, at, preview, now)
	return err
}

// SetUnread stores the unread counter for a conversation.
func (db *DB) SetUnread(contactID string, unread int) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = ? WHERE contact_id = ?`, unread, contactID)
	return err
}

// SetOnline stores the presence flag for a contact.
func (db *DB) SetOnline(contactID string, online bool) error {
	_, err := db.Exec(`UPDATE conversations SET online = ? WHERE contact_id = ?`, online, contactID)
	return err
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT contact_id, name, avatar_url, online, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ContactID, &c.Name, &c.AvatarURL, &c.Online,
			&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by contact id.
func (db *DB) GetConversation(contactID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT contact_id, name, avatar_url, online, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE contact_id = ?`, contactID).
		Scan(&c.ContactID, &c.Name, &c.AvatarURL, &c.Online,
			&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
