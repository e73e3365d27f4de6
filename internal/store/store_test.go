package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", SenderID: "c1", Body: "v1", MessageType: "text", Status: "delivered", Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
}

// TestListMessagesAppendOrder verifies messages come back in insertion
// order even when their timestamps are out of order — optimistic entries
// have untrustworthy clocks until acked.
func TestListMessagesAppendOrder(t *testing.T) {
	db := testDB(t)

	rows := []*Message{
		{ConversationID: "c1", MsgID: "a", Body: "first", Timestamp: 3000},
		{ConversationID: "c1", MsgID: "b", Body: "second", Timestamp: 1000},
		{ConversationID: "c1", MsgID: "c", Body: "third", Timestamp: 2000},
	}
	for _, m := range rows {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if msgs[i].MsgID != want {
			t.Errorf("msgs[%d] = %q, want %q (append order)", i, msgs[i].MsgID, want)
		}
	}
}

func TestRekeyMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "tmp-1", Body: "hi", Status: "sending", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.RekeyMessage("c1", "tmp-1", "42", "sent", 2000); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != "42" || msgs[0].Status != "sent" || msgs[0].Timestamp != 2000 {
		t.Errorf("message = %+v, want msg_id=42 status=sent timestamp=2000", msgs[0])
	}
}

func TestReplaceHistoryResetsUnread(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ContactID: "c1", Name: "Ada", UnreadCount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "old", Body: "stale"}); err != nil {
		t.Fatal(err)
	}

	err := db.ReplaceHistory("c1", []*Message{
		{MsgID: "m1", Body: "one", Timestamp: 1},
		{MsgID: "m2", Body: "two", Timestamp: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m1" || msgs[1].MsgID != "m2" {
		t.Errorf("msgs = %+v, want [m1 m2]", msgs)
	}

	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after history load", conv.UnreadCount)
	}
}

func TestUpsertConversationPreservesName(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ContactID: "c1", Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	// A live-event upsert carries no name; it must not blank the known one.
	if err := db.UpsertConversation(&Conversation{ContactID: "c1", LastMessageAt: 100, LastMessagePreview: "hey"}); err != nil {
		t.Fatal(err)
	}

	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Name != "Ada" {
		t.Errorf("name = %q, want Ada (preserved)", conv.Name)
	}
	if conv.LastMessagePreview != "hey" {
		t.Errorf("preview = %q, want hey", conv.LastMessagePreview)
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)

	for _, c := range []*Conversation{
		{ContactID: "old", LastMessageAt: 100},
		{ContactID: "new", LastMessageAt: 300},
		{ContactID: "mid", LastMessageAt: 200},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if convs[i].ContactID != want {
			t.Errorf("convs[%d] = %q, want %q", i, convs[i].ContactID, want)
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m1", Body: "bye"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("c1", "m1"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0 after delete", len(msgs))
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	for _, m := range []*Message{
		{ConversationID: "c1", MsgID: "m1", Body: "the invoice is ready"},
		{ConversationID: "c1", MsgID: "m2", Body: "see you tomorrow"},
		{ConversationID: "c2", MsgID: "m3", Body: "invoice attached"},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("invoice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	results, err = db.SearchMessages("invoice", "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m1" {
		t.Errorf("scoped results = %+v, want only m1", results)
	}
}
