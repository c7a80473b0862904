package ws

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

// MessageStore persists messages. *repository.MessageRepository implements it.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message, poll *model.Poll) error
	MarkConversationRead(ctx context.Context, viewerID, otherID string) error
}

// UserDirectory resolves display identity and records presence transitions.
// *repository.UserRepository implements it.
type UserDirectory interface {
	GetPublicByID(ctx context.Context, id string) (*model.UserPublic, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

// PushNotifier sends push notifications. When nil, pushes are skipped.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Hub struct {
	presence   *Presence
	msgStore   MessageStore
	users      UserDirectory
	pushClient PushNotifier
	maxConns   int
	register   chan Conn
	unregister chan Conn
	// dead holds connections whose unregister arrived before their register.
	// Only the Run goroutine touches it.
	dead map[Conn]struct{}
	done chan struct{}
}

func NewHub(
	presence *Presence,
	msgStore MessageStore,
	users UserDirectory,
	maxConns int,
	pushClient PushNotifier,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		presence:   presence,
		msgStore:   msgStore,
		users:      users,
		pushClient: pushClient,
		maxConns:   maxConns,
		register:   make(chan Conn, 64),
		unregister: make(chan Conn, 64),
		dead:       make(map[Conn]struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addConn(c)
		case c := <-h.unregister:
			h.removeConn(c)
		}
	}
}

func (h *Hub) shutdown() {
	all := h.presence.All()
	for _, c := range all {
		h.presence.Leave(c)
	}
	// Close connections outside the registry lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		if w, ok := c.(interface{ Wait() }); ok {
			w.Wait()
		}
	}
}

func (h *Hub) addConn(c Conn) {
	if _, gone := h.dead[c]; gone {
		// The connection died before its register was processed. Joining it
		// now would leave a ghost entry nothing ever removes.
		delete(h.dead, c)
		c.Close()
		return
	}
	if h.presence.Total() >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.UserID())
		c.Close()
		return
	}
	h.presence.Join(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.users.SetOnline(ctx, c.UserID(), true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.UserID(), err)
	}
	// Announced on every join, not just the first connection: a repeated
	// announce is idempotent for subscribers and refreshes late joiners.
	h.broadcastUserStatus(c.UserID(), true)
}

func (h *Hub) removeConn(c Conn) {
	last, ok := h.presence.Leave(c)
	if !ok {
		// Teardown raced ahead of registration. Remember the connection so
		// a pending register cannot resurrect it.
		h.dead[c] = struct{}{}
		c.Close()
		return
	}
	c.Close()

	// The user stays online while any other connection remains.
	if !last {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.users.SetOnline(ctx, c.UserID(), false); err != nil {
		logger.Errorf("ws set offline user=%s: %v", c.UserID(), err)
	}
	h.broadcastUserStatus(c.UserID(), false)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	switch msg.Type {
	case EventJoinUser:
		h.handleJoinUser(c)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventTyping:
		h.handleTyping(c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Code:    ErrCodeValidation,
			Message: "unknown event type",
		}})
	}
}

// handleJoinUser re-announces presence for an already registered connection.
// Identity comes from session auth at upgrade time, so the event carries no
// payload the server trusts; re-sending it is safe and changes nothing.
func (h *Hub) handleJoinUser(c Conn) {
	if !h.presence.Online(c.UserID()) {
		return
	}
	h.broadcastUserStatus(c.UserID(), true)
}

func (h *Hub) handleSendMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()

	receiverID := strings.TrimSpace(msg.ReceiverID)
	if receiverID == "" {
		h.sendError(c, msg.ClientID, ErrCodeValidation, "receiver_id required")
		return
	}

	contentType := model.ContentTypeText
	if msg.ContentType != "" {
		contentType = msg.ContentType
	}

	var poll *model.Poll
	now := time.Now().UTC()
	m := &model.Message{
		ID:          uuid.New().String(),
		SenderID:    c.UserID(),
		ReceiverID:  receiverID,
		Content:     msg.Content,
		ContentType: contentType,
		CreatedAt:   now,
	}

	switch contentType {
	case model.ContentTypeText:
		if strings.TrimSpace(msg.Content) == "" {
			h.sendError(c, msg.ClientID, ErrCodeValidation, "content required")
			return
		}
	case model.ContentTypePoll:
		meta, err := model.ParsePollMetadata(msg.Metadata)
		if err != nil {
			h.sendError(c, msg.ClientID, ErrCodeInvalidPoll, err.Error())
			return
		}
		m.Metadata = msg.Metadata
		poll = &model.Poll{
			ID:        uuid.New().String(),
			MessageID: m.ID,
			Question:  meta.Question,
			Options:   meta.Options,
			CreatedAt: now,
		}
	default:
		h.sendError(c, msg.ClientID, ErrCodeValidation, "unsupported content_type")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Nothing is delivered unless the store accepted the message.
	if err := h.msgStore.Create(ctx, m, poll); err != nil {
		logger.Errorf("ws save message sender=%s receiver=%s: %v", c.UserID(), receiverID, err)
		code := ErrCodeStoreUnavailable
		if errors.Is(err, repository.ErrPartialWrite) {
			code = ErrCodePartialWrite
		}
		h.sendError(c, msg.ClientID, code, "failed to save message")
		return
	}
	m.Poll = poll

	sender, err := h.users.GetPublicByID(ctx, c.UserID())
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", c.UserID(), err)
	} else {
		m.Sender = sender
	}
	receiver, err := h.users.GetPublicByID(ctx, receiverID)
	if err != nil {
		logger.Errorf("ws get receiver user=%s: %v", receiverID, err)
	} else {
		m.Receiver = receiver
	}

	// Every connection of the receiver identity gets the message.
	if receiverID != c.UserID() {
		h.sendToUser(receiverID, OutgoingMessage{Type: EventNewMessage, Payload: m})
	} else {
		// Notes-to-self: the sender's other tabs see it as a new message.
		for _, rc := range h.presence.Connections(receiverID) {
			if rc != c {
				rc.Send(OutgoingMessage{Type: EventNewMessage, Payload: m})
			}
		}
	}

	// Confirmation goes to the originating connection only.
	c.Send(OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{
		Message:  m,
		ClientID: msg.ClientID,
	}})

	if h.pushClient != nil && receiverID != c.UserID() && !h.presence.Online(receiverID) {
		senderName := "New message"
		if m.Sender != nil && m.Sender.Username != "" {
			senderName = m.Sender.Username
		}
		body := m.Content
		if contentType == model.ContentTypePoll {
			body = "Poll: " + poll.Question
		}
		body = truncatePreview(body, 120)
		go h.pushClient.Notify(context.Background(), receiverID, senderName, body,
			map[string]string{"message_id": m.ID, "sender_id": c.UserID()})
	}
}

// truncatePreview caps the notification body at limit bytes without
// splitting a multibyte rune.
func truncatePreview(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

func (h *Hub) handleTyping(c Conn, msg IncomingMessage) {
	receiverID := strings.TrimSpace(msg.ReceiverID)
	if receiverID == "" || receiverID == c.UserID() {
		return
	}
	h.sendToUser(receiverID, OutgoingMessage{
		Type:    EventTyping,
		Payload: TypingPayload{UserID: c.UserID()},
	})
}

// handleMarkRead marks the conversation with msg.UserID as read for the
// caller, then tells the other party their messages were seen.
func (h *Hub) handleMarkRead(ctx context.Context, c Conn, msg IncomingMessage) {
	otherID := strings.TrimSpace(msg.UserID)
	if otherID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgStore.MarkConversationRead(ctx, c.UserID(), otherID); err != nil {
		logger.Errorf("ws mark read viewer=%s other=%s: %v", c.UserID(), otherID, err)
		return
	}
	if otherID != c.UserID() {
		h.sendToUser(otherID, OutgoingMessage{
			Type:    EventMessagesRead,
			Payload: MessagesReadPayload{UserID: c.UserID()},
		})
	}
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	out := OutgoingMessage{
		Type:    EventUserStatus,
		Payload: UserStatusPayload{UserID: userID, Online: online},
	}
	for _, c := range h.presence.All() {
		c.Send(out)
	}
}

func (h *Hub) sendError(c Conn, clientID, code, message string) {
	c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		Code:     code,
		Message:  message,
		ClientID: clientID,
	}})
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	for _, c := range h.presence.Connections(userID) {
		c.Send(msg)
	}
}

// Online reports whether the user has at least one live connection.
// Used by HTTP handlers building conversation lists.
func (h *Hub) Online(userID string) bool {
	return h.presence.Online(userID)
}

func (h *Hub) Register(c Conn) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
