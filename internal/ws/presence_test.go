package ws

import "testing"

type stubConn struct {
	userID string
	sent   []OutgoingMessage
	closed bool
}

func (s *stubConn) UserID() string { return s.userID }
func (s *stubConn) Send(msg OutgoingMessage) bool {
	s.sent = append(s.sent, msg)
	return true
}
func (s *stubConn) Close() { s.closed = true }

func TestPresenceJoinLeave(t *testing.T) {
	p := NewPresence()
	tab1 := &stubConn{userID: "alice"}
	tab2 := &stubConn{userID: "alice"}

	if first := p.Join(tab1); !first {
		t.Error("first Join should report first=true")
	}
	if first := p.Join(tab2); first {
		t.Error("second Join should report first=false")
	}
	if !p.Online("alice") {
		t.Error("alice should be online")
	}
	if got := len(p.Connections("alice")); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	if p.Total() != 2 {
		t.Errorf("total = %d, want 2", p.Total())
	}

	last, ok := p.Leave(tab1)
	if !ok || last {
		t.Errorf("Leave(tab1) = (last=%v, ok=%v), want (false, true)", last, ok)
	}
	if !p.Online("alice") {
		t.Error("alice should stay online with one tab left")
	}

	last, ok = p.Leave(tab2)
	if !ok || !last {
		t.Errorf("Leave(tab2) = (last=%v, ok=%v), want (true, true)", last, ok)
	}
	if p.Online("alice") {
		t.Error("alice should be offline")
	}
	if p.Total() != 0 {
		t.Errorf("total = %d, want 0", p.Total())
	}
}

func TestPresenceLeaveUnknownIsNoop(t *testing.T) {
	p := NewPresence()
	if last, ok := p.Leave(&stubConn{userID: "ghost"}); ok || last {
		t.Errorf("Leave(unknown) = (last=%v, ok=%v), want (false, false)", last, ok)
	}

	// A connection removed twice must not disturb the count.
	c := &stubConn{userID: "alice"}
	p.Join(c)
	p.Leave(c)
	if _, ok := p.Leave(c); ok {
		t.Error("second Leave of the same conn should be a no-op")
	}
	if p.Total() != 0 {
		t.Errorf("total = %d, want 0", p.Total())
	}
}

func TestPresenceDuplicateJoin(t *testing.T) {
	p := NewPresence()
	c := &stubConn{userID: "alice"}
	p.Join(c)
	if first := p.Join(c); first {
		t.Error("re-joining the same conn should not report first")
	}
	if p.Total() != 1 {
		t.Errorf("total = %d, want 1", p.Total())
	}
}

func TestPresenceOnlineUsers(t *testing.T) {
	p := NewPresence()
	p.Join(&stubConn{userID: "alice"})
	p.Join(&stubConn{userID: "bob"})

	users := p.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("online users = %v, want 2 entries", users)
	}
	seen := map[string]bool{}
	for _, id := range users {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("online users = %v", users)
	}
}
