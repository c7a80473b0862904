package handler

import (
	"net/http"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

// PresenceChecker reports live connection state. *ws.Hub implements it.
type PresenceChecker interface {
	Online(userID string) bool
}

type UserHandler struct {
	users    *repository.UserRepository
	messages *repository.MessageRepository
	presence PresenceChecker
}

func NewUserHandler(users *repository.UserRepository, messages *repository.MessageRepository, presence PresenceChecker) *UserHandler {
	return &UserHandler{users: users, messages: messages, presence: presence}
}

const maxUserList = 500

// List returns every other user as a conversation row: profile, unread
// count, last-message preview and live connection state. A user with no
// history still appears, so new accounts are reachable immediately.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.UserList", time.Now())()
	viewerID := middleware.GetUserID(r.Context())

	users, err := h.users.ListAll(r.Context(), maxUserList)
	if err != nil {
		logger.Errorf("user list viewer=%s: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}

	unread, err := h.messages.UnreadCountsBySender(r.Context(), viewerID)
	if err != nil {
		logger.Errorf("user list unread viewer=%s: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	lastByPartner, err := h.messages.LastMessagePerPartner(r.Context(), viewerID)
	if err != nil {
		logger.Errorf("user list last message viewer=%s: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}

	out := make([]model.ConversationSummary, 0, len(users))
	for i := range users {
		u := &users[i]
		if u.ID == viewerID {
			continue
		}
		row := model.ConversationSummary{
			User:        u.ToPublic(),
			UnreadCount: unread[u.ID],
			Online:      h.presence.Online(u.ID),
		}
		if last, ok := lastByPartner[u.ID]; ok {
			row.LastMessage = &last
			row.LastMessageTime = &last.CreatedAt
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}
