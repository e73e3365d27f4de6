package presence

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/transport"
	"go.uber.org/zap"
)

func testTracker(t *testing.T, window time.Duration) (*Tracker, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	return NewTracker(db, b, zap.NewNop(), window), b
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestSetOnlinePublishesOnChangeOnly(t *testing.T) {
	tr, b := testTracker(t, 0)
	events, cancel := b.Subscribe("presence.online", 16)
	defer cancel()

	tr.SetOnline("c1", true)
	evt := waitEvent(t, events, "presence.online")
	if p := evt.Payload.(OnlineEvent); !p.Online || p.UserID != "c1" {
		t.Errorf("event = %+v", p)
	}

	tr.SetOnline("c1", true)
	select {
	case evt := <-events:
		t.Errorf("unexpected event for unchanged state: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	tr.SetOnline("c1", false)
	evt = waitEvent(t, events, "presence.online")
	if p := evt.Payload.(OnlineEvent); p.Online {
		t.Errorf("event = %+v, want offline", p)
	}
}

func TestTypingExpiresAfterQuietWindow(t *testing.T) {
	tr, b := testTracker(t, 50*time.Millisecond)
	events, cancel := b.Subscribe("presence.typing", 16)
	defer cancel()

	tr.ObserveTyping("c1", true)
	evt := waitEvent(t, events, "presence.typing")
	if p := evt.Payload.(TypingEvent); !p.Typing {
		t.Fatalf("event = %+v, want typing", p)
	}
	if !tr.Typing("c1") {
		t.Fatal("indicator should be up")
	}

	evt = waitEvent(t, events, "presence.typing")
	if p := evt.Payload.(TypingEvent); p.Typing {
		t.Errorf("event = %+v, want expiry to typing=false", p)
	}
	if tr.Typing("c1") {
		t.Error("indicator should have expired")
	}
}

func TestTypingExtendedByRepeatedEvents(t *testing.T) {
	tr, b := testTracker(t, 200*time.Millisecond)
	events, cancel := b.Subscribe("presence.typing", 16)
	defer cancel()

	tr.ObserveTyping("c1", true)
	waitEvent(t, events, "presence.typing")

	time.Sleep(100 * time.Millisecond)
	tr.ObserveTyping("c1", true) // extends, no new event

	time.Sleep(150 * time.Millisecond)
	if !tr.Typing("c1") {
		t.Error("indicator expired despite being extended")
	}

	evt := waitEvent(t, events, "presence.typing")
	if p := evt.Payload.(TypingEvent); p.Typing {
		t.Errorf("event = %+v, want single trailing typing=false", p)
	}
}

func TestExplicitStopClearsIndicator(t *testing.T) {
	tr, b := testTracker(t, time.Minute)
	events, cancel := b.Subscribe("presence.typing", 16)
	defer cancel()

	tr.ObserveTyping("c1", true)
	waitEvent(t, events, "presence.typing")

	tr.ObserveTyping("c1", false)
	evt := waitEvent(t, events, "presence.typing")
	if p := evt.Payload.(TypingEvent); p.Typing {
		t.Errorf("event = %+v, want typing=false", p)
	}
	if tr.Typing("c1") {
		t.Error("indicator should be cleared")
	}
}

func TestTrackerAppliesRealtimeFrames(t *testing.T) {
	tr, b := testTracker(t, 0)
	tr.Start()
	defer tr.Stop()

	b.Publish(bus.Event{Kind: "rt." + transport.EvtOnlineStatus, Timestamp: time.Now(),
		Payload: json.RawMessage(`{"userId":"c1","isOnline":true}`)})

	deadline := time.After(time.Second)
	for !tr.Online("c1") {
		select {
		case <-deadline:
			t.Fatal("online_status frame not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []bool // isTyping values in order
	errs error
}

func (f *fakePublisher) Publish(event string, payload any, ack transport.AckFunc) error {
	if event != transport.EvtTyping {
		return nil
	}
	raw, _ := json.Marshal(payload)
	var p struct {
		IsTyping bool `json:"isTyping"`
	}
	_ = json.Unmarshal(raw, &p)
	f.mu.Lock()
	f.sent = append(f.sent, p.IsTyping)
	f.mu.Unlock()
	return f.errs
}

func (f *fakePublisher) flags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestNotifierSendsOneStartPerBurst(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, zap.NewNop(), 50*time.Millisecond)

	n.InputActivity("c1")
	n.InputActivity("c1")
	n.InputActivity("c1")

	if got := pub.flags(); len(got) != 1 || !got[0] {
		t.Fatalf("sent = %v, want single leading typing=true", got)
	}

	deadline := time.After(time.Second)
	for len(pub.flags()) < 2 {
		select {
		case <-deadline:
			t.Fatal("trailing typing=false never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := pub.flags(); got[1] {
		t.Errorf("sent = %v, want trailing typing=false", got)
	}
}

func TestNotifierStopEndsBurstImmediately(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, zap.NewNop(), time.Minute)

	n.InputActivity("c1")
	n.Stop()
	n.Stop() // second stop is a no-op

	if got := pub.flags(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("sent = %v, want [true false]", got)
	}
}

func TestNotifierSwitchingReceiversStopsOldBurst(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, zap.NewNop(), time.Minute)

	n.InputActivity("a")
	n.InputActivity("b")
	n.Stop()

	// true(a), false(a), true(b), false(b)
	if got := pub.flags(); len(got) != 4 || !got[0] || got[1] || !got[2] || got[3] {
		t.Errorf("sent = %v, want [true false true false]", got)
	}
}
