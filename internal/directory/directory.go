// Package directory maintains the contact list: summaries sorted by last
// activity, unread counters and presence flags, merged live from bus events.
package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/channel"
	"github.com/gigdesk/msgd/internal/presence"
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/transport"
	"github.com/gigdesk/msgd/internal/wire"
	"go.uber.org/zap"
)

// ContactSource is the REST surface the directory loads from. Satisfied by
// *rest.Client.
type ContactSource interface {
	Contacts(ctx context.Context) ([]wire.ContactSummary, error)
	User(ctx context.Context, contactID string) (*wire.ContactSummary, error)
}

// Focuser is the conversation side of a selection. Satisfied by
// *channel.State.
type Focuser interface {
	Select(conversationID string)
	LoadHistory(ctx context.Context, conversationID string) error
}

type publisher interface {
	Publish(event string, payload any, ack transport.AckFunc) error
}

// Summary is one directory entry.
type Summary struct {
	ContactID     string
	Name          string
	AvatarURL     string
	Online        bool
	Typing        bool
	Unread        int
	LastMessageAt int64
	LastPreview   string
}

// Directory owns the contact list view.
type Directory struct {
	api    ContactSource
	ch     Focuser
	tr     publisher
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*Summary

	quit   chan struct{}
	cancel []func()
}

// New creates an empty directory.
func New(api ContactSource, ch Focuser, tr publisher, db *store.DB, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		api:     api,
		ch:      ch,
		tr:      tr,
		db:      db,
		bus:     b,
		logger:  logger,
		entries: make(map[string]*Summary),
		quit:    make(chan struct{}),
	}
}

// Load populates the directory: cached conversations first so the list shows
// up offline, then the REST contact list on top. The REST error is returned
// but the cached entries stay usable.
func (d *Directory) Load(ctx context.Context) error {
	cached, err := d.db.ListConversations(0, 0)
	if err != nil {
		d.logger.Warn("conversation cache read failed", zap.Error(err))
	}
	d.mu.Lock()
	for _, c := range cached {
		d.entries[c.ContactID] = &Summary{
			ContactID:     c.ContactID,
			Name:          c.Name,
			AvatarURL:     c.AvatarURL,
			Online:        c.Online,
			Unread:        c.UnreadCount,
			LastMessageAt: c.LastMessageAt,
			LastPreview:   c.LastMessagePreview,
		}
	}
	d.mu.Unlock()

	contacts, err := d.api.Contacts(ctx)
	if err != nil {
		d.logger.Warn("contact load failed", zap.Error(err))
		return err
	}

	d.mu.Lock()
	for i := range contacts {
		d.applyContactLocked(&contacts[i])
	}
	d.mu.Unlock()

	for i := range contacts {
		d.persist(&contacts[i])
	}
	d.publishChanged()
	return nil
}

// applyContactLocked merges a server summary over the local entry. Empty
// server fields never blank known values.
func (d *Directory) applyContactLocked(c *wire.ContactSummary) {
	e, ok := d.entries[c.ID]
	if !ok {
		e = &Summary{ContactID: c.ID}
		d.entries[c.ID] = e
	}
	if c.Name != "" {
		e.Name = c.Name
	}
	if c.AvatarURL != "" {
		e.AvatarURL = c.AvatarURL
	}
	e.Online = c.IsOnline
	e.Unread = c.UnreadCount
	if c.LastActivity >= e.LastMessageAt {
		e.LastMessageAt = c.LastActivity
		if c.LastMessage != "" {
			e.LastPreview = c.LastMessage
		}
	}
}

func (d *Directory) persist(c *wire.ContactSummary) {
	err := d.db.UpsertConversation(&store.Conversation{
		ContactID:          c.ID,
		Name:               c.Name,
		AvatarURL:          c.AvatarURL,
		Online:             c.IsOnline,
		UnreadCount:        c.UnreadCount,
		LastMessageAt:      c.LastActivity,
		LastMessagePreview: c.LastMessage,
	})
	if err != nil {
		d.logger.Warn("conversation cache write failed", zap.Error(err))
	}
}

// Resolve returns the entry for a contact, fetching an unknown one from the
// backend. Deep links open conversations with contacts the list has never
// shown.
func (d *Directory) Resolve(ctx context.Context, contactID string) (*Summary, error) {
	d.mu.Lock()
	if e, ok := d.entries[contactID]; ok {
		out := *e
		d.mu.Unlock()
		return &out, nil
	}
	d.mu.Unlock()

	c, err := d.api.User(ctx, contactID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.applyContactLocked(c)
	out := *d.entries[contactID]
	d.mu.Unlock()

	d.persist(c)
	d.publishChanged()
	return &out, nil
}

// Select opens a conversation: resolves the contact, moves channel focus,
// announces the routing intent and loads history. Unread resets immediately.
func (d *Directory) Select(ctx context.Context, contactID string) error {
	if _, err := d.Resolve(ctx, contactID); err != nil {
		return err
	}

	d.ch.Select(contactID)

	d.mu.Lock()
	if e, ok := d.entries[contactID]; ok {
		e.Unread = 0
	}
	d.mu.Unlock()
	if err := d.db.SetUnread(contactID, 0); err != nil {
		d.logger.Warn("unread cache write failed", zap.Error(err))
	}

	if err := d.tr.Publish(transport.EvtJoinConversation, wire.JoinConversation{ContactID: contactID}, nil); err != nil {
		d.logger.Debug("join_conversation publish failed", zap.Error(err))
	}
	d.bus.Publish(bus.Event{Kind: "conversation.selected", Timestamp: time.Now(), Payload: contactID})

	return d.ch.LoadHistory(ctx, contactID)
}

// Summaries returns the directory sorted by last activity, newest first.
func (d *Directory) Summaries() []Summary {
	d.mu.Lock()
	out := make([]Summary, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ContactID < out[j].ContactID
	})
	return out
}

// Get returns a single entry by contact id.
func (d *Directory) Get(contactID string) (Summary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[contactID]
	if !ok {
		return Summary{}, false
	}
	return *e, true
}

// Start merges live message and presence events into the directory until
// Stop is called.
func (d *Directory) Start() {
	msgCh, cancelMsg := d.bus.Subscribe("message.", 128)
	prCh, cancelPr := d.bus.Subscribe("presence.", 64)
	d.cancel = []func(){cancelMsg, cancelPr}
	go d.run(msgCh, prCh)
}

// Stop halts event processing.
func (d *Directory) Stop() {
	for _, c := range d.cancel {
		c()
	}
	close(d.quit)
}

func (d *Directory) run(msgCh, prCh <-chan bus.Event) {
	for {
		select {
		case <-d.quit:
			return
		case evt := <-msgCh:
			d.handleMessage(evt)
		case evt := <-prCh:
			d.handlePresence(evt)
		}
	}
}

// handleMessage applies a live upsert: preview and timestamp move forward,
// unread mirrors the channel's counter, everything else stays untouched.
func (d *Directory) handleMessage(evt bus.Event) {
	if evt.Kind != "message.upserted" {
		return
	}
	p, ok := evt.Payload.(channel.UpsertEvent)
	if !ok {
		return
	}

	d.mu.Lock()
	e, ok := d.entries[p.ConversationID]
	if !ok {
		e = &Summary{ContactID: p.ConversationID}
		d.entries[p.ConversationID] = e
	}
	if p.Timestamp >= e.LastMessageAt {
		e.LastMessageAt = p.Timestamp
		e.LastPreview = p.Preview
	}
	e.Unread = p.Unread
	d.mu.Unlock()

	d.publishChanged()
}

func (d *Directory) handlePresence(evt bus.Event) {
	d.mu.Lock()
	switch p := evt.Payload.(type) {
	case presence.OnlineEvent:
		if e, ok := d.entries[p.UserID]; ok {
			e.Online = p.Online
		}
	case presence.TypingEvent:
		if e, ok := d.entries[p.UserID]; ok {
			e.Typing = p.Typing
		}
	}
	d.mu.Unlock()

	d.publishChanged()
}

func (d *Directory) publishChanged() {
	d.bus.Publish(bus.Event{Kind: "conversation.updated", Timestamp: time.Now()})
}
