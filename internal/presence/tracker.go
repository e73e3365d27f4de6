// Package presence tracks contact online state and typing indicators, and
// debounces the session user's own typing notifications.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/transport"
	"github.com/gigdesk/msgd/internal/wire"
	"go.uber.org/zap"
)

// DefaultQuietWindow is how long a typing indicator stays up without a
// fresh typing event before it expires on its own.
const DefaultQuietWindow = 2 * time.Second

// OnlineEvent is the payload for presence.online bus events.
type OnlineEvent struct {
	UserID string
	Online bool
}

// TypingEvent is the payload for presence.typing bus events.
type TypingEvent struct {
	UserID string
	Typing bool
}

// Tracker holds the observed presence of contacts. Typing indicators are
// self-expiring: a contact that goes silent is cleared after the quiet
// window even if the stop event never arrives.
type Tracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	window time.Duration

	mu     sync.Mutex
	online map[string]bool
	typing map[string]*time.Timer

	quit   chan struct{}
	cancel func()
}

// NewTracker creates a tracker. A zero window means DefaultQuietWindow.
func NewTracker(db *store.DB, b *bus.Bus, logger *zap.Logger, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	return &Tracker{
		db:     db,
		bus:    b,
		logger: logger,
		window: window,
		online: make(map[string]bool),
		typing: make(map[string]*time.Timer),
		quit:   make(chan struct{}),
	}
}

// SetOnline records a contact's online flag and republishes it.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	prev, known := t.online[userID]
	t.online[userID] = online
	t.mu.Unlock()

	if known && prev == online {
		return
	}
	if err := t.db.SetOnline(userID, online); err != nil {
		t.logger.Warn("presence cache write failed", zap.Error(err))
	}
	t.bus.Publish(bus.Event{Kind: "presence.online", Timestamp: time.Now(),
		Payload: OnlineEvent{UserID: userID, Online: online}})
}

// ObserveTyping applies an inbound typing event. Repeated typing=true
// events extend the expiry window instead of re-announcing.
func (t *Tracker) ObserveTyping(userID string, isTyping bool) {
	t.mu.Lock()
	timer, active := t.typing[userID]
	if active {
		timer.Stop()
	}
	if isTyping {
		t.typing[userID] = time.AfterFunc(t.window, func() {
			t.expireTyping(userID)
		})
	} else {
		delete(t.typing, userID)
	}
	t.mu.Unlock()

	if isTyping == active {
		return
	}
	t.bus.Publish(bus.Event{Kind: "presence.typing", Timestamp: time.Now(),
		Payload: TypingEvent{UserID: userID, Typing: isTyping}})
}

func (t *Tracker) expireTyping(userID string) {
	t.mu.Lock()
	_, active := t.typing[userID]
	delete(t.typing, userID)
	t.mu.Unlock()

	if !active {
		return
	}
	t.bus.Publish(bus.Event{Kind: "presence.typing", Timestamp: time.Now(),
		Payload: TypingEvent{UserID: userID, Typing: false}})
}

// Online reports the last known online flag for a contact.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Snapshot returns a contact's current presence in one read.
func (t *Tracker) Snapshot(userID string) (online, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, active := t.typing[userID]
	return t.online[userID], active
}

// Typing reports whether a contact's typing indicator is currently up.
func (t *Tracker) Typing(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, active := t.typing[userID]
	return active
}

// Start subscribes to realtime presence frames until Stop is called.
func (t *Tracker) Start() {
	ch, cancel := t.bus.Subscribe("rt.", 64)
	t.cancel = cancel
	go t.run(ch)
}

// Stop halts event processing and clears pending typing expirations.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	close(t.quit)
	t.mu.Lock()
	for id, timer := range t.typing {
		timer.Stop()
		delete(t.typing, id)
	}
	t.mu.Unlock()
}

func (t *Tracker) run(ch <-chan bus.Event) {
	for {
		select {
		case <-t.quit:
			return
		case evt := <-ch:
			t.handle(evt)
		}
	}
}

func (t *Tracker) handle(evt bus.Event) {
	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		return
	}
	switch evt.Kind {
	case "rt." + transport.EvtOnlineStatus:
		var p wire.OnlineStatus
		if err := json.Unmarshal(raw, &p); err != nil {
			t.logger.Warn("malformed online_status", zap.Error(err))
			return
		}
		t.SetOnline(p.UserID, p.IsOnline)

	case "rt." + transport.EvtTyping:
		var p wire.Typing
		if err := json.Unmarshal(raw, &p); err != nil {
			t.logger.Warn("malformed typing", zap.Error(err))
			return
		}
		t.ObserveTyping(p.UserID, p.IsTyping)
	}
}
