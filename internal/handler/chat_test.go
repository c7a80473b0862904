package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatline/internal/ai"
)

func TestChatHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"42"}]}}]}`))
	}))
	defer upstream.Close()

	h := NewChatHandler(ai.NewClient("key", "gemini-2.0-flash", upstream.URL))
	req := httptest.NewRequest(http.MethodPost, "/api/chat/ai",
		strings.NewReader(`{"message":"meaning of life?"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["response"] != "42" {
		t.Errorf("response = %q", body["response"])
	}
}

func TestChatHandlerQuota(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota",
			"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"12s"}]}}`))
	}))
	defer upstream.Close()

	h := NewChatHandler(ai.NewClient("key", "gemini-2.0-flash", upstream.URL))
	req := httptest.NewRequest(http.MethodPost, "/api/chat/ai", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "12" {
		t.Errorf("Retry-After = %q, want 12", got)
	}
}

func TestChatHandlerModelNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}))
	defer upstream.Close()

	h := NewChatHandler(ai.NewClient("key", "bad-model", upstream.URL))
	req := httptest.NewRequest(http.MethodPost, "/api/chat/ai", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestChatHandlerValidation(t *testing.T) {
	h := NewChatHandler(ai.NewClient("key", "m", "http://unused"))

	for _, body := range []string{`{}`, `{"message":"   "}`, `not-json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/ai", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Chat(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSuggestHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"want to grab lunch?\",\"want to catch up later?\"]"}]}}]}`))
	}))
	defer upstream.Close()

	h := NewChatHandler(ai.NewClient("key", "gemini-2.0-flash", upstream.URL))
	req := httptest.NewRequest(http.MethodPost, "/api/ai/suggest",
		strings.NewReader(`{"current_input":"want to","history":["hey","hi!"]}`))
	rec := httptest.NewRecorder()
	h.Suggest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Suggestions []ai.Suggestion `json:"suggestions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Suggestions) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(body.Suggestions))
	}
	if body.Suggestions[0].Text != "want to grab lunch?" {
		t.Errorf("first suggestion = %q", body.Suggestions[0].Text)
	}
}

func TestSuggestHandlerBestEffort(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	cases := []struct {
		name string
		h    *ChatHandler
		body string
	}{
		{"upstream failure", NewChatHandler(ai.NewClient("key", "m", upstream.URL)), `{"current_input":"want to"}`},
		{"not configured", NewChatHandler(ai.NewClient("", "m", upstream.URL)), `{"current_input":"want to"}`},
		{"input too short", NewChatHandler(ai.NewClient("key", "m", upstream.URL)), `{"current_input":"hi"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ai/suggest", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			tc.h.Suggest(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body struct {
				Suggestions []ai.Suggestion `json:"suggestions"`
			}
			json.Unmarshal(rec.Body.Bytes(), &body)
			if len(body.Suggestions) != 0 {
				t.Errorf("got %d suggestions, want an empty list", len(body.Suggestions))
			}
		})
	}
}

func TestInsightsHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"type\":\"summary\",\"title\":\"Summary\",\"content\":\"planning a trip\"}]"}]}}]}`))
	}))
	defer upstream.Close()

	h := NewChatHandler(ai.NewClient("key", "gemini-2.0-flash", upstream.URL))
	payload := `{"messages":[
		{"sender_id":"a","content":"m1"},{"sender_id":"b","content":"m2"},
		{"sender_id":"a","content":"m3"},{"sender_id":"b","content":"m4"},
		{"sender_id":"a","content":"m5"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/ai/insights", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Insights(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Insights []ai.Insight `json:"insights"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Insights) != 1 {
		t.Fatalf("got %d insights, want 1", len(body.Insights))
	}
	if body.Insights[0].Content != "planning a trip" {
		t.Errorf("insight = %+v", body.Insights[0])
	}
}

func TestInsightsHandlerTooFewMessages(t *testing.T) {
	h := NewChatHandler(ai.NewClient("key", "m", "http://unused"))
	req := httptest.NewRequest(http.MethodPost, "/api/ai/insights",
		strings.NewReader(`{"messages":[{"sender_id":"a","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	h.Insights(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Insights []ai.Insight `json:"insights"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Insights) != 0 {
		t.Errorf("got %d insights, want an empty list below the minimum", len(body.Insights))
	}
}

func TestChatHandlerNotConfigured(t *testing.T) {
	h := NewChatHandler(ai.NewClient("", "m", "http://unused"))
	req := httptest.NewRequest(http.MethodPost, "/api/chat/ai", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
