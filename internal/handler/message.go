package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

type MessageHandler struct {
	messages  *repository.MessageRepository
	polls     *repository.PollRepository
	reactions *repository.ReactionRepository
}

func NewMessageHandler(
	messages *repository.MessageRepository,
	polls *repository.PollRepository,
	reactions *repository.ReactionRepository,
) *MessageHandler {
	return &MessageHandler{messages: messages, polls: polls, reactions: reactions}
}

const defaultHistoryLimit = 100

// messageView is a history row: the message plus computed poll tally and
// reaction summary for the viewer.
type messageView struct {
	model.Message
	PollTally *model.PollTally      `json:"poll_tally,omitempty"`
	Reactions []model.ReactionGroup `json:"reactions,omitempty"`
}

// History returns the newest window of the two-party conversation ascending
// by creation time and marks the other party's messages as read. Rows older
// than the window are marked read too: the viewer opened the conversation,
// and the window always contains its newest end.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.MessageHistory", time.Now())()
	viewerID := middleware.GetUserID(r.Context())
	otherID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	msgs, err := h.messages.GetConversation(r.Context(), viewerID, otherID, limit)
	if err != nil {
		logger.Errorf("history viewer=%s other=%s: %v", viewerID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	out := make([]messageView, 0, len(msgs))
	for i := range msgs {
		view, err := h.buildView(r, &msgs[i], viewerID)
		if err != nil {
			logger.Errorf("history enrich message=%s: %v", msgs[i].ID, err)
			writeError(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		out = append(out, view)
	}

	// Fetching the conversation counts as reading it.
	if err := h.messages.MarkConversationRead(r.Context(), viewerID, otherID); err != nil {
		logger.Errorf("history mark read viewer=%s other=%s: %v", viewerID, otherID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *MessageHandler) buildView(r *http.Request, m *model.Message, viewerID string) (messageView, error) {
	view := messageView{Message: *m}

	if m.ContentType == model.ContentTypePoll {
		poll, err := h.polls.GetByMessageID(r.Context(), m.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return view, err
		}
		if poll != nil {
			votes, err := h.polls.VotesByPoll(r.Context(), poll.ID)
			if err != nil {
				return view, err
			}
			tally := model.BuildPollTally(len(poll.Options), votes, viewerID)
			view.Poll = poll
			view.PollTally = &tally
		}
	}

	reactions, err := h.reactions.GetByMessage(r.Context(), m.ID)
	if err != nil {
		return view, err
	}
	if len(reactions) > 0 {
		view.Reactions = model.GroupReactions(reactions, viewerID)
	}
	return view, nil
}

type voteRequest struct {
	OptionIndex int `json:"option_index"`
}

type voteResponse struct {
	PollID    string          `json:"poll_id"`
	MessageID string          `json:"message_id"`
	Tally     model.PollTally `json:"tally"`
}

// Vote records or replaces the caller's vote on a poll message. The tally is
// recomputed from stored rows, never adjusted incrementally.
func (h *MessageHandler) Vote(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.Vote", time.Now())()
	viewerID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageID")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	poll, err := h.polls.GetByMessageID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no poll on this message")
			return
		}
		logger.Errorf("vote load poll message=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to record vote")
		return
	}
	if !poll.ValidOption(req.OptionIndex) {
		writeError(w, http.StatusBadRequest, "option_index out of range")
		return
	}

	vote := &model.PollVote{
		ID:          uuid.New().String(),
		PollID:      poll.ID,
		MessageID:   messageID,
		UserID:      viewerID,
		OptionIndex: req.OptionIndex,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.polls.UpsertVote(r.Context(), vote); err != nil {
		logger.Errorf("vote upsert poll=%s user=%s: %v", poll.ID, viewerID, err)
		writeError(w, http.StatusInternalServerError, "failed to record vote")
		return
	}

	votes, err := h.polls.VotesByPoll(r.Context(), poll.ID)
	if err != nil {
		logger.Errorf("vote tally poll=%s: %v", poll.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to record vote")
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{
		PollID:    poll.ID,
		MessageID: messageID,
		Tally:     model.BuildPollTally(len(poll.Options), votes, viewerID),
	})
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type reactResponse struct {
	MessageID string                `json:"message_id"`
	Reacted   bool                  `json:"reacted"`
	Reactions []model.ReactionGroup `json:"reactions"`
}

const maxEmojiLen = 32

// React toggles the caller's reaction on a message: present rows are
// removed, absent ones added. Calling twice with the same emoji nets to zero.
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.React", time.Now())()
	viewerID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageID")

	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Emoji = strings.TrimSpace(req.Emoji)
	if req.Emoji == "" || len(req.Emoji) > maxEmojiLen {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	if _, err := h.messages.GetByID(r.Context(), messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("react load message=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to toggle reaction")
		return
	}

	added, err := h.reactions.Toggle(r.Context(), messageID, viewerID, req.Emoji)
	if err != nil {
		logger.Errorf("react toggle message=%s user=%s: %v", messageID, viewerID, err)
		writeError(w, http.StatusInternalServerError, "failed to toggle reaction")
		return
	}

	reactions, err := h.reactions.GetByMessage(r.Context(), messageID)
	if err != nil {
		logger.Errorf("react summary message=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to toggle reaction")
		return
	}
	writeJSON(w, http.StatusOK, reactResponse{
		MessageID: messageID,
		Reacted:   added,
		Reactions: model.GroupReactions(reactions, viewerID),
	})
}
