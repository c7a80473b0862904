package ws

import "sync"

// Conn is a single live socket connection bound to an authenticated user.
// *Client implements it; tests use in-memory fakes.
type Conn interface {
	UserID() string
	// Send enqueues a message without blocking. It returns false when the
	// connection is closed or its outbound buffer is full.
	Send(msg OutgoingMessage) bool
	Close()
}

// Presence tracks which users are connected right now. A user may hold
// several connections at once (multiple tabs, phone plus laptop); the user
// counts as online while at least one connection remains.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{}
	total int
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[string]map[Conn]struct{})}
}

// Join registers a connection under its user. It reports whether this is
// the user's first active connection.
func (p *Presence) Join(c Conn) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[c.UserID()]
	if !ok {
		set = make(map[Conn]struct{})
		p.conns[c.UserID()] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}
	p.total++
	return !ok
}

// Leave removes a connection. ok is false when the connection was never
// registered (the call is then a no-op); last is true when the user has no
// connections remaining.
func (p *Presence) Leave(c Conn) (last, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, found := p.conns[c.UserID()]
	if !found {
		return false, false
	}
	if _, found = set[c]; !found {
		return false, false
	}
	delete(set, c)
	p.total--
	if len(set) == 0 {
		delete(p.conns, c.UserID())
		return true, true
	}
	return false, true
}

// Online reports whether the user has at least one active connection.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

// Connections returns a snapshot of the user's active connections.
func (p *Presence) Connections(userID string) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every active connection.
func (p *Presence) All() []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Conn, 0, p.total)
	for _, set := range p.conns {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// OnlineUsers returns the ids of all users with at least one connection.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	return out
}

// Total returns the number of active connections across all users.
func (p *Presence) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}
