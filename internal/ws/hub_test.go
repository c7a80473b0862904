package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

type fakeStore struct {
	created   []*model.Message
	polls     []*model.Poll
	createErr error

	markedViewer string
	markedOther  string
}

func (f *fakeStore) Create(ctx context.Context, m *model.Message, poll *model.Poll) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, m)
	if poll != nil {
		f.polls = append(f.polls, poll)
	}
	return nil
}

func (f *fakeStore) MarkConversationRead(ctx context.Context, viewerID, otherID string) error {
	f.markedViewer = viewerID
	f.markedOther = otherID
	return nil
}

type fakeDirectory struct {
	online map[string]bool
}

func (f *fakeDirectory) GetPublicByID(ctx context.Context, id string) (*model.UserPublic, error) {
	return &model.UserPublic{ID: id, Username: "user-" + id}, nil
}

func (f *fakeDirectory) SetOnline(ctx context.Context, userID string, online bool) error {
	if f.online == nil {
		f.online = make(map[string]bool)
	}
	f.online[userID] = online
	return nil
}

func newTestHub(store *fakeStore) (*Hub, *Presence) {
	p := NewPresence()
	h := NewHub(p, store, &fakeDirectory{}, 100, nil)
	return h, p
}

func byType(msgs []OutgoingMessage, et EventType) []OutgoingMessage {
	var out []OutgoingMessage
	for _, m := range msgs {
		if m.Type == et {
			out = append(out, m)
		}
	}
	return out
}

func TestSendMessageFanOut(t *testing.T) {
	store := &fakeStore{}
	h, p := newTestHub(store)

	sender := &stubConn{userID: "alice"}
	recv1 := &stubConn{userID: "bob"}
	recv2 := &stubConn{userID: "bob"}
	p.Join(sender)
	p.Join(recv1)
	p.Join(recv2)

	h.HandleMessage(context.Background(), sender, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: "bob",
		Content:    "hello",
		ClientID:   "tmp-1",
	})

	if len(store.created) != 1 {
		t.Fatalf("stored %d messages, want 1", len(store.created))
	}
	m := store.created[0]
	if m.SenderID != "alice" || m.ReceiverID != "bob" || m.Content != "hello" {
		t.Errorf("stored message = %+v", m)
	}
	if m.ID == "" {
		t.Error("store id missing")
	}

	// Every receiver connection gets the message.
	for i, rc := range []*stubConn{recv1, recv2} {
		got := byType(rc.sent, EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("receiver %d got %d new_message events, want 1", i, len(got))
		}
	}

	// The confirmation goes to the originating connection only, with the
	// correlation id echoed back.
	acks := byType(sender.sent, EventMessageSent)
	if len(acks) != 1 {
		t.Fatalf("sender got %d message_sent events, want 1", len(acks))
	}
	ack := acks[0].Payload.(MessageSentPayload)
	if ack.ClientID != "tmp-1" {
		t.Errorf("ack client_id = %q, want tmp-1", ack.ClientID)
	}
	if ack.Message.ID != m.ID {
		t.Errorf("ack id = %q, want store id %q", ack.Message.ID, m.ID)
	}
	if len(byType(sender.sent, EventNewMessage)) != 0 {
		t.Error("sender connection should not receive new_message")
	}
	if len(byType(recv1.sent, EventMessageSent)) != 0 {
		t.Error("receiver should not get the sender's confirmation")
	}
}

func TestSendMessageStoreFailure(t *testing.T) {
	store := &fakeStore{createErr: errors.New("db down")}
	h, p := newTestHub(store)

	sender := &stubConn{userID: "alice"}
	recv := &stubConn{userID: "bob"}
	p.Join(sender)
	p.Join(recv)

	h.HandleMessage(context.Background(), sender, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: "bob",
		Content:    "hello",
	})

	if len(recv.sent) != 0 {
		t.Errorf("receiver got %d events, want none on store failure", len(recv.sent))
	}
	errs := byType(sender.sent, EventError)
	if len(errs) != 1 {
		t.Fatalf("sender got %d error events, want 1", len(errs))
	}
	if payload := errs[0].Payload.(ErrorPayload); payload.Code != ErrCodeStoreUnavailable {
		t.Errorf("error code = %q, want %q", payload.Code, ErrCodeStoreUnavailable)
	}
}

func TestSendMessagePartialWrite(t *testing.T) {
	store := &fakeStore{createErr: repository.ErrPartialWrite}
	h, p := newTestHub(store)

	sender := &stubConn{userID: "alice"}
	p.Join(sender)

	h.HandleMessage(context.Background(), sender, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: "bob",
		Content:    "hello",
	})

	errs := byType(sender.sent, EventError)
	if len(errs) != 1 {
		t.Fatalf("sender got %d error events, want 1", len(errs))
	}
	if payload := errs[0].Payload.(ErrorPayload); payload.Code != ErrCodePartialWrite {
		t.Errorf("error code = %q, want %q", payload.Code, ErrCodePartialWrite)
	}
}

func TestSendMessageValidation(t *testing.T) {
	store := &fakeStore{}
	h, p := newTestHub(store)
	sender := &stubConn{userID: "alice"}
	p.Join(sender)

	cases := []struct {
		name string
		msg  IncomingMessage
		code string
	}{
		{"no receiver", IncomingMessage{Type: EventSendMessage, Content: "hi"}, ErrCodeValidation},
		{"empty content", IncomingMessage{Type: EventSendMessage, ReceiverID: "bob", Content: "   "}, ErrCodeValidation},
		{"unknown content type", IncomingMessage{Type: EventSendMessage, ReceiverID: "bob", Content: "x", ContentType: "gif"}, ErrCodeValidation},
		{"poll one option", IncomingMessage{
			Type: EventSendMessage, ReceiverID: "bob", ContentType: model.ContentTypePoll,
			Metadata: json.RawMessage(`{"question":"q","options":["only"]}`),
		}, ErrCodeInvalidPoll},
		{"poll bad json", IncomingMessage{
			Type: EventSendMessage, ReceiverID: "bob", ContentType: model.ContentTypePoll,
			Metadata: json.RawMessage(`nope`),
		}, ErrCodeInvalidPoll},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender.sent = nil
			h.HandleMessage(context.Background(), sender, tc.msg)
			errs := byType(sender.sent, EventError)
			if len(errs) != 1 {
				t.Fatalf("got %d error events, want 1", len(errs))
			}
			if payload := errs[0].Payload.(ErrorPayload); payload.Code != tc.code {
				t.Errorf("error code = %q, want %q", payload.Code, tc.code)
			}
		})
	}
	if len(store.created) != 0 {
		t.Errorf("store saw %d messages, rejected input must not be persisted", len(store.created))
	}
}

func TestSendPollMessage(t *testing.T) {
	store := &fakeStore{}
	h, p := newTestHub(store)
	sender := &stubConn{userID: "alice"}
	recv := &stubConn{userID: "bob"}
	p.Join(sender)
	p.Join(recv)

	h.HandleMessage(context.Background(), sender, IncomingMessage{
		Type:        EventSendMessage,
		ReceiverID:  "bob",
		ContentType: model.ContentTypePoll,
		Metadata:    json.RawMessage(`{"question":"Lunch?","options":["pizza","tacos"]}`),
	})

	if len(store.polls) != 1 {
		t.Fatalf("stored %d polls, want 1", len(store.polls))
	}
	poll := store.polls[0]
	if poll.Question != "Lunch?" || len(poll.Options) != 2 {
		t.Errorf("stored poll = %+v", poll)
	}
	if poll.MessageID != store.created[0].ID {
		t.Error("poll not linked to the message")
	}
	got := byType(recv.sent, EventNewMessage)
	if len(got) != 1 {
		t.Fatalf("receiver got %d new_message events, want 1", len(got))
	}
	if delivered := got[0].Payload.(*model.Message); delivered.Poll == nil {
		t.Error("delivered message should carry the poll")
	}
}

func TestSelfMessage(t *testing.T) {
	store := &fakeStore{}
	h, p := newTestHub(store)
	tab1 := &stubConn{userID: "alice"}
	tab2 := &stubConn{userID: "alice"}
	p.Join(tab1)
	p.Join(tab2)

	h.HandleMessage(context.Background(), tab1, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: "alice",
		Content:    "note to self",
	})

	if len(store.created) != 1 {
		t.Fatalf("stored %d messages, want 1", len(store.created))
	}
	// The other tab sees a new message; the sending tab only gets the ack.
	if len(byType(tab2.sent, EventNewMessage)) != 1 {
		t.Error("second tab should receive new_message")
	}
	if len(byType(tab1.sent, EventNewMessage)) != 0 {
		t.Error("originating tab should not receive its own new_message")
	}
	if len(byType(tab1.sent, EventMessageSent)) != 1 {
		t.Error("originating tab should receive message_sent")
	}
}

func TestMarkRead(t *testing.T) {
	store := &fakeStore{}
	h, p := newTestHub(store)
	reader := &stubConn{userID: "alice"}
	other := &stubConn{userID: "bob"}
	p.Join(reader)
	p.Join(other)

	h.HandleMessage(context.Background(), reader, IncomingMessage{
		Type:   EventMarkRead,
		UserID: "bob",
	})

	if store.markedViewer != "alice" || store.markedOther != "bob" {
		t.Errorf("marked (%q, %q), want (alice, bob)", store.markedViewer, store.markedOther)
	}
	receipts := byType(other.sent, EventMessagesRead)
	if len(receipts) != 1 {
		t.Fatalf("other party got %d messages_read events, want 1", len(receipts))
	}
	if payload := receipts[0].Payload.(MessagesReadPayload); payload.UserID != "alice" {
		t.Errorf("read receipt user = %q, want alice", payload.UserID)
	}
}

func TestTypingRelay(t *testing.T) {
	h, p := newTestHub(&fakeStore{})
	typer := &stubConn{userID: "alice"}
	other := &stubConn{userID: "bob"}
	p.Join(typer)
	p.Join(other)

	h.HandleMessage(context.Background(), typer, IncomingMessage{
		Type:       EventTyping,
		ReceiverID: "bob",
	})

	got := byType(other.sent, EventTyping)
	if len(got) != 1 {
		t.Fatalf("other party got %d typing events, want 1", len(got))
	}
	if payload := got[0].Payload.(TypingPayload); payload.UserID != "alice" {
		t.Errorf("typing user = %q, want alice", payload.UserID)
	}
	if len(typer.sent) != 0 {
		t.Error("typing must not echo back to the typer")
	}
}

func TestOfflineOnlyAfterLastConnection(t *testing.T) {
	store := &fakeStore{}
	p := NewPresence()
	dir := &fakeDirectory{}
	h := NewHub(p, store, dir, 100, nil)

	watcher := &stubConn{userID: "bob"}
	h.addConn(watcher)

	tab1 := &stubConn{userID: "alice"}
	tab2 := &stubConn{userID: "alice"}
	h.addConn(tab1)
	h.addConn(tab2)
	if !dir.online["alice"] {
		t.Fatal("alice should be marked online")
	}

	watcher.sent = nil
	h.removeConn(tab1)
	if !dir.online["alice"] {
		t.Error("alice must stay online while a connection remains")
	}
	if n := len(byType(watcher.sent, EventUserStatus)); n != 0 {
		t.Errorf("watcher got %d status events after partial disconnect, want 0", n)
	}

	h.removeConn(tab2)
	if dir.online["alice"] {
		t.Error("alice should be marked offline after the last disconnect")
	}
	statuses := byType(watcher.sent, EventUserStatus)
	if len(statuses) != 1 {
		t.Fatalf("watcher got %d status events, want 1", len(statuses))
	}
	if payload := statuses[0].Payload.(UserStatusPayload); payload.UserID != "alice" || payload.Online {
		t.Errorf("status payload = %+v, want alice offline", payload)
	}
	if !tab1.closed || !tab2.closed {
		t.Error("removed connections should be closed")
	}
}

func TestConnectionLimit(t *testing.T) {
	p := NewPresence()
	h := NewHub(p, &fakeStore{}, &fakeDirectory{}, 1, nil)

	first := &stubConn{userID: "alice"}
	second := &stubConn{userID: "bob"}
	h.addConn(first)
	h.addConn(second)

	if second.closed != true {
		t.Error("connection over the limit should be closed")
	}
	if p.Online("bob") {
		t.Error("rejected connection must not appear in presence")
	}
}

func TestJoinUserReannounce(t *testing.T) {
	h, p := newTestHub(&fakeStore{})
	alice := &stubConn{userID: "alice"}
	bob := &stubConn{userID: "bob"}
	p.Join(alice)
	p.Join(bob)

	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventJoinUser})

	statuses := byType(bob.sent, EventUserStatus)
	if len(statuses) != 1 {
		t.Fatalf("bob got %d status events, want 1", len(statuses))
	}
	if payload := statuses[0].Payload.(UserStatusPayload); payload.UserID != "alice" || !payload.Online {
		t.Errorf("status payload = %+v, want alice online", payload)
	}
}

func TestUnregisterBeforeRegister(t *testing.T) {
	store := &fakeStore{}
	p := NewPresence()
	dir := &fakeDirectory{}
	h := NewHub(p, store, dir, 100, nil)

	// A connection that dies during the handshake can have its teardown
	// processed before its registration. The late registration must not
	// leave the user permanently online.
	c := &stubConn{userID: "alice"}
	h.removeConn(c)
	h.addConn(c)

	if p.Online("alice") {
		t.Error("dead connection must not appear in presence")
	}
	if p.Total() != 0 {
		t.Errorf("presence total = %d, want 0", p.Total())
	}
	if dir.online["alice"] {
		t.Error("alice must not be marked online")
	}
	if !c.closed {
		t.Error("dead connection should be closed")
	}

	// A fresh connection for the same user still registers normally.
	c2 := &stubConn{userID: "alice"}
	h.addConn(c2)
	if !p.Online("alice") {
		t.Error("new connection should register")
	}
}

func TestTruncatePreview(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"short untouched", "hello", "hello"},
		{"ascii cut", strings.Repeat("a", 130), strings.Repeat("a", 117) + "..."},
		{"multibyte boundary", strings.Repeat("a", 116) + "héllo", strings.Repeat("a", 116) + "h..."},
		{"cut mid rune", strings.Repeat("a", 116) + "éxxxx", strings.Repeat("a", 116) + "..."},
		{"exactly at limit", strings.Repeat("b", 120), strings.Repeat("b", 120)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncatePreview(tc.body, 120)
			if got != tc.want {
				t.Errorf("truncatePreview = %q, want %q", got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncatePreview produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestUnknownEventType(t *testing.T) {
	h, p := newTestHub(&fakeStore{})
	c := &stubConn{userID: "alice"}
	p.Join(c)

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: "frobnicate"})

	errs := byType(c.sent, EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
}
