package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, message_type,
			attachment_url, attachment_name, attachment_size, attachment_mime,
			reply_sender_id, reply_preview, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.MessageType,
		m.AttachmentURL, m.AttachmentName, m.AttachmentSize, m.AttachmentMime,
		m.ReplySenderID, m.ReplyPreview, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// RekeyMessage swaps a message's temp id for its server-assigned id and
// updates status and timestamp in the same statement.
func (db *DB) RekeyMessage(conversationID, tempID, serverID, status string, timestamp int64) error {
	_, err := db.Exec(`
		UPDATE messages SET msg_id = ?, status = ?, timestamp = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		serverID, status, timestamp, conversationID, tempID)
	return err
}

// UpdateMessageStatus sets the delivery status of a message.
func (db *DB) UpdateMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// DeleteMessage removes a message row.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

// ListMessages returns the most recent messages of a conversation in append
// order (oldest of the window first). Append order, not wall-clock order:
// optimistic entries keep their insertion position.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, message_type,
			attachment_url, attachment_name, attachment_size, attachment_mime,
			reply_sender_id, reply_preview, from_me, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body,
			&m.MessageType, &m.AttachmentURL, &m.AttachmentName, &m.AttachmentSize,
			&m.AttachmentMime, &m.ReplySenderID, &m.ReplyPreview, &m.FromMe,
			&m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending append order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ReplaceHistory atomically replaces a conversation's cached messages and
// clears its unread count (loading history implies the user is viewing).
func (db *DB) ReplaceHistory(conversationID string, msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, body, message_type,
				attachment_url, attachment_name, attachment_size, attachment_mime,
				reply_sender_id, reply_preview, from_me, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.MsgID, m.SenderID, m.Body, m.MessageType,
			m.AttachmentURL, m.AttachmentName, m.AttachmentSize, m.AttachmentMime,
			m.ReplySenderID, m.ReplyPreview, m.FromMe, m.Status, m.Timestamp, now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE conversations SET unread_count = 0 WHERE contact_id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
