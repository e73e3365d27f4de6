package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gigdesk/msgd/internal/wire"
)

func TestContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts/u1" {
			t.Errorf("path = %q, want /contacts/u1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q, want Bearer tok", got)
		}
		_ = json.NewEncoder(w).Encode([]wire.ContactSummary{
			{ID: "c1", Name: "Ada", IsOnline: true, UnreadCount: 2},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "u1", "tok", nil)
	contacts, err := c.Contacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].ID != "c1" || contacts[0].UnreadCount != 2 {
		t.Errorf("contacts = %+v, want one entry c1 with unread 2", contacts)
	}
}

func TestMessagesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("userId") != "u1" || q.Get("contactId") != "c1" || q.Get("limit") != "50" {
			t.Errorf("query = %v, want userId=u1 contactId=c1 limit=50", q)
		}
		_ = json.NewEncoder(w).Encode([]wire.Message{{ID: "m1", SenderID: "c1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "u1", "tok", nil)
	msgs, err := c.Messages(context.Background(), "c1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("msgs = %+v, want one message m1", msgs)
	}
}

func TestSendReturnsServerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/send" {
			t.Errorf("got %s %s, want POST /send", r.Method, r.URL.Path)
		}
		var m wire.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Fatal(err)
		}
		if m.MessageContent.Text != "hello" {
			t.Errorf("text = %q, want hello", m.MessageContent.Text)
		}
		_ = json.NewEncoder(w).Encode(wire.SendAck{ID: "42", SentAt: 1000})
	}))
	defer srv.Close()

	c := New(srv.URL, "u1", "tok", nil)
	ack, err := c.Send(context.Background(), &wire.Message{
		SenderID:       "u1",
		ReceiverID:     "c1",
		MessageContent: wire.Content{Text: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.ID != "42" {
		t.Errorf("ack id = %q, want 42", ack.ID)
	}
}

func TestDeleteMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/message" {
			t.Errorf("got %s %s, want DELETE /message", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("messageId") != "m1" {
			t.Errorf("messageId = %q, want m1", r.URL.Query().Get("messageId"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "u1", "tok", nil)
	if err := c.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "u1", "tok", nil)
	if _, err := c.Contacts(context.Background()); err == nil {
		t.Error("expected error on HTTP 500")
	}
}
