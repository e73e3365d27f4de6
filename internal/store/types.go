package store

// Conversation is a cached conversation summary, keyed by the counterpart
// contact's id.
type Conversation struct {
	ContactID          string
	Name               string
	AvatarURL          string
	Online             bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a cached message row. MsgID holds the client temp id until the
// server assigns one, then the server id.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Body           string
	MessageType    string // text | image | file
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	AttachmentMime string
	ReplySenderID  string
	ReplyPreview   string
	FromMe         bool
	Status         string
	Timestamp      int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
