// Package wire defines the server-side payload shapes shared by the
// websocket and REST paths.
package wire

// Message is the canonical message record as the server sends it.
type Message struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	MessageContent Content   `json:"messageContent"`
	SentAt         int64     `json:"sentAt"`
	Status         string    `json:"status,omitempty"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`
}

// Content holds the message body: text, an attachment, or both.
type Content struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	Kind        string `json:"kind"` // image | file
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// ReplyRef is the quoted-message reference carried by a reply.
type ReplyRef struct {
	SenderID string `json:"senderId"`
	Preview  string `json:"preview"`
}

// ContactSummary is a directory entry as returned by GET /contacts/{userId}.
type ContactSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	IsOnline     bool   `json:"isOnline"`
	LastMessage  string `json:"lastMessage,omitempty"`
	LastActivity int64  `json:"lastActivity,omitempty"`
	UnreadCount  int    `json:"unreadCount,omitempty"`
}

// SendAck is the acknowledgment payload for a send_message event and the
// response body of POST /send. ID is the server-assigned message id.
type SendAck struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sentAt"`
}

// Typing is the inbound typing event payload.
type Typing struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// TypingIntent is the outbound typing notification.
type TypingIntent struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// OnlineStatus is the inbound presence event payload.
type OnlineStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// MessageRead is the inbound read-receipt payload.
type MessageRead struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId"`
}

// MessageDeleted is the inbound peer-deletion payload.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// MarkRead is the outbound read-receipt intent.
type MarkRead struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// JoinConversation is the outbound routing intent sent on focus change.
type JoinConversation struct {
	ContactID string `json:"contactId"`
}

// DeleteIntent is the outbound peer notification for a deleted message.
type DeleteIntent struct {
	MessageID  string `json:"messageId"`
	ReceiverID string `json:"receiverId"`
}

// Authenticate is the first outbound event after the socket opens.
type Authenticate struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}
