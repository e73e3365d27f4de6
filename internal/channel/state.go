// Package channel holds the in-memory conversation state: append-ordered
// message lists, optimistic sends with temp-id reconciliation, delivery
// status tracking and unread counters. It is the single writer of message
// rows in the store; consumers observe it through bus events.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/transport"
	"github.com/gigdesk/msgd/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned by Send when there is nothing to send.
var ErrEmptyMessage = errors.New("channel: empty message")

// Transport is the realtime path. Satisfied by *transport.Conn.
type Transport interface {
	State() transport.State
	Publish(event string, payload any, ack transport.AckFunc) error
}

// Backend is the REST path used for history loads and as the fallback
// delivery route while the socket is down. Satisfied by *rest.Client.
type Backend interface {
	Messages(ctx context.Context, contactID string, limit int) ([]wire.Message, error)
	Send(ctx context.Context, msg *wire.Message) (*wire.SendAck, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

type conversation struct {
	id       string
	messages []*Message
	byTemp   map[string]*Message
	byServer map[string]*Message
	unread   int
}

func (c *conversation) append(m *Message) {
	c.messages = append(c.messages, m)
	if m.TempID != "" && m.ServerID == "" {
		c.byTemp[m.TempID] = m
	}
	if m.ServerID != "" {
		c.byServer[m.ServerID] = m
	}
}

func (c *conversation) remove(m *Message) {
	for i, cur := range c.messages {
		if cur == m {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	delete(c.byTemp, m.TempID)
	delete(c.byServer, m.ServerID)
}

// State owns all live conversations for the session user.
type State struct {
	userID       string
	tr           Transport
	api          Backend
	db           *store.DB
	bus          *bus.Bus
	logger       *zap.Logger
	historyLimit int

	mu      sync.Mutex
	convs   map[string]*conversation
	convOf  map[string]string // server id -> conversation id
	focused string

	quit   chan struct{}
	cancel func()
}

// New creates the channel state. historyLimit bounds REST history loads;
// zero means the backend default.
func New(userID string, tr Transport, api Backend, db *store.DB, b *bus.Bus, logger *zap.Logger, historyLimit int) *State {
	return &State{
		userID:       userID,
		tr:           tr,
		api:          api,
		db:           db,
		bus:          b,
		logger:       logger,
		historyLimit: historyLimit,
		convs:        make(map[string]*conversation),
		convOf:       make(map[string]string),
		quit:         make(chan struct{}),
	}
}

func (s *State) ensureConvLocked(id string) *conversation {
	conv, ok := s.convs[id]
	if !ok {
		conv = &conversation{
			id:       id,
			byTemp:   make(map[string]*Message),
			byServer: make(map[string]*Message),
		}
		s.convs[id] = conv
	}
	return conv
}

// Select makes a conversation the focused one. Incoming messages for the
// focused conversation are read immediately instead of counted as unread.
func (s *State) Select(conversationID string) {
	s.mu.Lock()
	s.focused = conversationID
	if conversationID != "" {
		s.ensureConvLocked(conversationID)
	}
	s.mu.Unlock()
}

// Focused returns the currently focused conversation id, or "".
func (s *State) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Messages returns a snapshot of a conversation's messages in append order.
func (s *State) Messages(conversationID string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]*Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// Unread returns the unread counter for a conversation.
func (s *State) Unread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return 0
	}
	return conv.unread
}

// LoadHistory fetches a conversation's history over REST and replaces the
// in-memory and cached copies. The result is discarded when focus moved to
// another conversation while the fetch was in flight. On fetch failure the
// existing state is kept untouched.
func (s *State) LoadHistory(ctx context.Context, conversationID string) error {
	msgs, err := s.api.Messages(ctx, conversationID, s.historyLimit)
	if err != nil {
		s.logger.Warn("history load failed", zap.String("conversation", conversationID), zap.Error(err))
		s.bus.Publish(bus.Event{Kind: "history.load_failed", Timestamp: time.Now(),
			Payload: HistoryEvent{ConversationID: conversationID, Error: err.Error()}})
		return err
	}

	s.mu.Lock()
	if s.focused != conversationID {
		s.mu.Unlock()
		s.logger.Debug("history load discarded, focus moved", zap.String("conversation", conversationID))
		return nil
	}
	conv := s.ensureConvLocked(conversationID)
	for id := range conv.byServer {
		delete(s.convOf, id)
	}
	conv.messages = nil
	conv.byTemp = make(map[string]*Message)
	conv.byServer = make(map[string]*Message)
	conv.unread = 0
	rows := make([]*store.Message, 0, len(msgs))
	for i := range msgs {
		m := s.fromWireLocked(&msgs[i], conversationID)
		conv.append(m)
		if m.ServerID != "" {
			s.convOf[m.ServerID] = conversationID
		}
		rows = append(rows, m.toStore())
	}
	s.mu.Unlock()

	if err := s.db.ReplaceHistory(conversationID, rows); err != nil {
		s.logger.Warn("history cache write failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "history.loaded", Timestamp: time.Now(),
		Payload: HistoryEvent{ConversationID: conversationID, Count: len(msgs)}})
	return nil
}

// Send appends an optimistic message and starts its delivery cycle. The
// returned temp id stays stable across retries and is only retired when the
// server ack rekeys the message. Delivery failures never remove the message;
// they mark it failed and publish message.send_failed.
func (s *State) Send(ctx context.Context, conversationID, text string, att *wire.Attachment, reply *wire.ReplyRef) (string, error) {
	if text == "" && att == nil {
		return "", ErrEmptyMessage
	}

	m := &Message{
		TempID:         "tmp-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       SelfSender,
		Body:           text,
		Attachment:     att,
		ReplyTo:        reply,
		Status:         StatusSending,
		Timestamp:      time.Now().UnixMilli(),
	}

	s.mu.Lock()
	conv := s.ensureConvLocked(conversationID)
	conv.append(m)
	unread := conv.unread
	s.mu.Unlock()

	if err := s.db.UpsertMessage(m.toStore()); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err))
	}
	s.publishUpsert(m, unread)

	s.deliver(ctx, m)
	return m.TempID, nil
}

// Retry restarts the delivery cycle of a failed message. The message keeps
// its temp id and list position.
func (s *State) Retry(ctx context.Context, conversationID, tempID string) {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m, ok := conv.byTemp[tempID]
	if !ok || m.Status != StatusFailed {
		s.mu.Unlock()
		return
	}
	m.Status = StatusSending
	unread := conv.unread
	s.mu.Unlock()

	if err := s.db.UpdateMessageStatus(conversationID, tempID, StatusSending); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err))
	}
	s.publishUpsert(m, unread)

	s.deliver(ctx, m)
}

// deliver pushes a sending message over the socket, or over REST when the
// socket is down. Either path ends in confirm or fail.
func (s *State) deliver(ctx context.Context, m *Message) {
	convID, tempID := m.ConversationID, m.TempID
	wm := s.toWire(m)

	if s.tr.State() == transport.Open {
		err := s.tr.Publish(transport.EvtSendMessage, wm, func(payload json.RawMessage, ackErr error) {
			if ackErr != nil {
				s.fail(convID, tempID, ackErr)
				return
			}
			var ack wire.SendAck
			if err := json.Unmarshal(payload, &ack); err != nil || ack.ID == "" {
				s.fail(convID, tempID, errors.New("malformed send ack"))
				return
			}
			s.confirm(convID, tempID, ack.ID, ack.SentAt)
		})
		if err == nil {
			return
		}
		if !errors.Is(err, transport.ErrNotOpen) {
			s.fail(convID, tempID, err)
			return
		}
		// Lost the socket between the state check and the write; fall
		// through to REST.
	}

	ack, err := s.api.Send(ctx, wm)
	if err != nil {
		s.fail(convID, tempID, err)
		return
	}
	s.confirm(convID, tempID, ack.ID, ack.SentAt)
}

// confirm rekeys an optimistic message to its server id and advances it to
// sent. A late or duplicate ack for an already rekeyed message is a no-op.
func (s *State) confirm(conversationID, tempID, serverID string, sentAt int64) {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m, ok := conv.byTemp[tempID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(conv.byTemp, tempID)
	m.ServerID = serverID
	if sentAt > 0 {
		m.Timestamp = sentAt
	}
	m.advance(StatusSent)
	conv.byServer[serverID] = m
	s.convOf[serverID] = conversationID
	s.mu.Unlock()

	if err := s.db.RekeyMessage(conversationID, tempID, serverID, m.Status, m.Timestamp); err != nil {
		s.logger.Warn("message rekey failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "message.send_ack", Timestamp: time.Now(),
		Payload: AckEvent{ConversationID: conversationID, TempID: tempID, ServerID: serverID}})
}

func (s *State) fail(conversationID, tempID string, cause error) {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m, ok := conv.byTemp[tempID]
	if !ok || !m.advance(StatusFailed) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Warn("send failed", zap.String("conversation", conversationID),
		zap.String("temp_id", tempID), zap.Error(cause))
	if err := s.db.UpdateMessageStatus(conversationID, tempID, StatusFailed); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "message.send_failed", Timestamp: time.Now(),
		Payload: FailEvent{ConversationID: conversationID, TempID: tempID, Error: cause.Error()}})
}

// Receive applies an inbound message. Duplicates (same server id) are
// dropped. Messages for the focused conversation are acknowledged as read
// right away; everything else bumps the unread counter.
func (s *State) Receive(wm *wire.Message) {
	fromMe := wm.SenderID == s.userID
	convID := wm.SenderID
	if fromMe {
		convID = wm.ReceiverID
	}

	s.mu.Lock()
	conv := s.ensureConvLocked(convID)
	if wm.ID != "" {
		if _, dup := conv.byServer[wm.ID]; dup {
			s.mu.Unlock()
			return
		}
	}
	m := s.fromWireLocked(wm, convID)
	conv.append(m)
	if m.ServerID != "" {
		s.convOf[m.ServerID] = convID
	}
	focused := s.focused == convID
	if !focused && !fromMe {
		conv.unread++
	}
	unread := conv.unread
	s.mu.Unlock()

	if err := s.db.UpsertMessage(m.toStore()); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err))
	}
	if err := s.db.TouchConversation(convID, m.preview(), m.Timestamp, unread); err != nil {
		s.logger.Warn("conversation cache write failed", zap.Error(err))
	}

	if focused && !fromMe && wm.ID != "" {
		if err := s.tr.Publish(transport.EvtMarkRead, wire.MarkRead{MessageID: wm.ID, SenderID: wm.SenderID}, nil); err != nil {
			s.logger.Debug("mark_read publish failed", zap.Error(err))
		}
	}

	s.publishUpsert(m, unread)
}

// MarkDelivered advances one of our sent messages to delivered.
func (s *State) MarkDelivered(serverID string) {
	s.advanceStatus(serverID, StatusDelivered)
}

// MarkRead advances one of our sent messages to read.
func (s *State) MarkRead(serverID string) {
	s.advanceStatus(serverID, StatusRead)
}

func (s *State) advanceStatus(serverID, status string) {
	s.mu.Lock()
	convID, ok := s.convOf[serverID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m := s.convs[convID].byServer[serverID]
	if m == nil || !m.advance(status) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.db.UpdateMessageStatus(convID, serverID, status); err != nil {
		s.logger.Warn("message cache write failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "message.status_changed", Timestamp: time.Now(),
		Payload: StatusEvent{ConversationID: convID, MsgID: serverID, Status: status}})
}

// Delete removes a message optimistically, then tells the backend. When the
// backend refuses, message.delete_failed is published and the error returned
// so the caller can reload history to restore truth.
func (s *State) Delete(ctx context.Context, conversationID, msgID string) error {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	m := conv.byServer[msgID]
	if m == nil {
		m = conv.byTemp[msgID]
	}
	if m == nil {
		s.mu.Unlock()
		return nil
	}
	conv.remove(m)
	delete(s.convOf, m.ServerID)
	s.mu.Unlock()

	if err := s.db.DeleteMessage(conversationID, msgID); err != nil {
		s.logger.Warn("message cache delete failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "message.deleted", Timestamp: time.Now(),
		Payload: DeleteEvent{ConversationID: conversationID, MsgID: msgID}})

	if m.ServerID == "" {
		// Never reached the server; nothing remote to delete.
		return nil
	}
	if err := s.api.DeleteMessage(ctx, m.ServerID); err != nil {
		s.logger.Warn("remote delete failed", zap.String("msg_id", m.ServerID), zap.Error(err))
		s.bus.Publish(bus.Event{Kind: "message.delete_failed", Timestamp: time.Now(),
			Payload: DeleteEvent{ConversationID: conversationID, MsgID: msgID, Error: err.Error()}})
		return err
	}
	if err := s.tr.Publish(transport.EvtDeleteMessage,
		wire.DeleteIntent{MessageID: m.ServerID, ReceiverID: conversationID}, nil); err != nil {
		s.logger.Debug("delete_message publish failed", zap.Error(err))
	}
	return nil
}

// removeRemote applies a peer-initiated deletion.
func (s *State) removeRemote(serverID string) {
	s.mu.Lock()
	convID, ok := s.convOf[serverID]
	if !ok {
		s.mu.Unlock()
		return
	}
	conv := s.convs[convID]
	m := conv.byServer[serverID]
	if m != nil {
		conv.remove(m)
	}
	delete(s.convOf, serverID)
	s.mu.Unlock()

	if err := s.db.DeleteMessage(convID, serverID); err != nil {
		s.logger.Warn("message cache delete failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: "message.deleted", Timestamp: time.Now(),
		Payload: DeleteEvent{ConversationID: convID, MsgID: serverID}})
}

func (s *State) publishUpsert(m *Message, unread int) {
	s.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: UpsertEvent{
		ConversationID: m.ConversationID,
		MsgID:          m.Key(),
		Preview:        m.preview(),
		Timestamp:      m.Timestamp,
		Unread:         unread,
		FromMe:         m.FromMe(),
	}})
}

func (s *State) toWire(m *Message) *wire.Message {
	return &wire.Message{
		SenderID:   s.userID,
		ReceiverID: m.ConversationID,
		MessageContent: wire.Content{
			Text:       m.Body,
			Attachment: m.Attachment,
		},
		SentAt:  m.Timestamp,
		ReplyTo: m.ReplyTo,
	}
}

func (s *State) fromWireLocked(wm *wire.Message, conversationID string) *Message {
	sender := wm.SenderID
	if sender == s.userID {
		sender = SelfSender
	}
	status := wm.Status
	if status == "" {
		if sender == SelfSender {
			status = StatusSent
		} else {
			status = StatusDelivered
		}
	}
	return &Message{
		ServerID:       wm.ID,
		ConversationID: conversationID,
		SenderID:       sender,
		Body:           wm.MessageContent.Text,
		Attachment:     wm.MessageContent.Attachment,
		ReplyTo:        wm.ReplyTo,
		Status:         status,
		Timestamp:      wm.SentAt,
	}
}
