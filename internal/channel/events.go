package channel

// UpsertEvent is the payload for message.upserted bus events.
type UpsertEvent struct {
	ConversationID string
	MsgID          string
	Preview        string
	Timestamp      int64
	Unread         int
	FromMe         bool
}

// AckEvent is the payload for message.send_ack bus events.
type AckEvent struct {
	ConversationID string
	TempID         string
	ServerID       string
}

// FailEvent is the payload for message.send_failed bus events.
type FailEvent struct {
	ConversationID string
	TempID         string
	Error          string
}

// StatusEvent is the payload for message.status_changed bus events.
type StatusEvent struct {
	ConversationID string
	MsgID          string
	Status         string
}

// DeleteEvent is the payload for message.deleted and message.delete_failed
// bus events.
type DeleteEvent struct {
	ConversationID string
	MsgID          string
	Error          string
}

// HistoryEvent is the payload for history.loaded and history.load_failed
// bus events.
type HistoryEvent struct {
	ConversationID string
	Count          int
	Error          string
}
