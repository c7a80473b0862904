package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatline/internal/ai"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
)

type ChatHandler struct {
	client *ai.Client
}

func NewChatHandler(client *ai.Client) *ChatHandler {
	return &ChatHandler{client: client}
}

type aiChatRequest struct {
	Message string    `json:"message"`
	History []ai.Turn `json:"history,omitempty"`
}

type aiChatResponse struct {
	Response string `json:"response"`
}

const maxHistoryTurns = 50

// Chat forwards the prompt to the assistant model and returns its reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.AIChat", time.Now())()
	if h.client == nil || !h.client.Enabled() {
		writeError(w, http.StatusNotImplemented, "ai chat not configured")
		return
	}

	var req aiChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	if len(req.History) > maxHistoryTurns {
		req.History = req.History[len(req.History)-maxHistoryTurns:]
	}

	text, err := h.client.Generate(r.Context(), req.Message, req.History)
	if err != nil {
		var quotaErr *ai.QuotaError
		switch {
		case errors.As(err, &quotaErr):
			w.Header().Set("Retry-After", strconv.Itoa(quotaErr.RetryAfter))
			writeError(w, http.StatusTooManyRequests, quotaErr.Error())
		case errors.Is(err, ai.ErrModelNotFound):
			writeError(w, http.StatusNotFound, "model not found")
		default:
			logger.Errorf("ai chat user=%s: %v", middleware.GetUserID(r.Context()), err)
			writeError(w, http.StatusBadGateway, "assistant unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, aiChatResponse{Response: text})
}

type aiSuggestRequest struct {
	CurrentInput string   `json:"current_input"`
	History      []string `json:"history,omitempty"`
}

const minSuggestInputLen = 3

// Suggest returns up to three completion candidates for the text the user is
// typing. Assistance is best effort: an unconfigured or failing model yields
// an empty list, never an error, so composing is never blocked.
func (h *ChatHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.AISuggest", time.Now())()
	empty := map[string]any{"suggestions": []ai.Suggestion{}}

	var req aiSuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CurrentInput = strings.TrimSpace(req.CurrentInput)
	if h.client == nil || !h.client.Enabled() || len(req.CurrentInput) < minSuggestInputLen {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	suggestions, err := h.client.Suggest(r.Context(), req.CurrentInput, req.History)
	if err != nil {
		logger.Errorf("ai suggest user=%s: %v", middleware.GetUserID(r.Context()), err)
		writeJSON(w, http.StatusOK, empty)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

type aiInsightsRequest struct {
	Messages []insightMessage `json:"messages"`
}

type insightMessage struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

const minInsightMessages = 5

// Insights summarizes the tail of a conversation (sentiment, topics,
// summary). Best effort like Suggest: failures yield an empty list.
func (h *ChatHandler) Insights(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.AIInsights", time.Now())()
	empty := map[string]any{"insights": []ai.Insight{}}
	viewerID := middleware.GetUserID(r.Context())

	var req aiInsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.client == nil || !h.client.Enabled() || len(req.Messages) < minInsightMessages {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	lines := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		speaker := "Other"
		if m.SenderID == viewerID {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Content)
	}

	insights, err := h.client.Insights(r.Context(), lines)
	if err != nil {
		logger.Errorf("ai insights user=%s: %v", viewerID, err)
		writeJSON(w, http.StatusOK, empty)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}
