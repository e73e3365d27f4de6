package channel

import (
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/wire"
)

// SelfSender is the local sentinel for messages sent by the session user.
const SelfSender = "me"

// Delivery statuses. A message only moves forward through
// sending -> sent -> delivered -> read; failed is terminal and reachable
// from sending only.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Message is an in-memory conversation entry. Exactly one of TempID and
// ServerID is the authoritative key: TempID until the ack arrives, ServerID
// afterwards (TempID is retired by the rekey, never reused).
type Message struct {
	TempID         string
	ServerID       string
	ConversationID string
	SenderID       string // SelfSender, a contact id, or "system"
	Body           string
	Attachment     *wire.Attachment
	ReplyTo        *wire.ReplyRef
	Status         string
	Timestamp      int64
}

// Key returns the currently authoritative id.
func (m *Message) Key() string {
	if m.ServerID != "" {
		return m.ServerID
	}
	return m.TempID
}

// FromMe reports whether the session user sent this message.
func (m *Message) FromMe() bool {
	return m.SenderID == SelfSender
}

// advance moves the status forward. Returns false when the requested
// transition would regress or leave a terminal state.
func (m *Message) advance(to string) bool {
	if to == StatusFailed {
		if m.Status != StatusSending {
			return false
		}
		m.Status = StatusFailed
		return true
	}
	if m.Status == StatusFailed {
		return false
	}
	if statusRank[to] <= statusRank[m.Status] {
		return false
	}
	m.Status = to
	return true
}

func (m *Message) messageType() string {
	if m.Attachment != nil {
		return m.Attachment.Kind
	}
	return "text"
}

// preview returns the contact-list preview text for this message.
func (m *Message) preview() string {
	if m.Body != "" {
		return truncate(m.Body, 100)
	}
	if m.Attachment != nil {
		return truncate(m.Attachment.Name, 100)
	}
	return ""
}

func (m *Message) toStore() *store.Message {
	sm := &store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.Key(),
		SenderID:       m.SenderID,
		Body:           m.Body,
		MessageType:    m.messageType(),
		FromMe:         m.FromMe(),
		Status:         m.Status,
		Timestamp:      m.Timestamp,
	}
	if m.Attachment != nil {
		sm.AttachmentURL = m.Attachment.URL
		sm.AttachmentName = m.Attachment.Name
		sm.AttachmentSize = m.Attachment.Size
		sm.AttachmentMime = m.Attachment.ContentType
	}
	if m.ReplyTo != nil {
		sm.ReplySenderID = m.ReplyTo.SenderID
		sm.ReplyPreview = m.ReplyTo.Preview
	}
	return sm
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
