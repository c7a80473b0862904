package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	var gotPath string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello "},{"text":"there."}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gemini-2.0-flash", srv.URL)
	text, err := c.Generate(context.Background(), "hi", []Turn{
		{Role: "user", Text: "earlier question"},
		{Role: "model", Text: "earlier answer"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello there." {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotBody.Contents) != 3 {
		t.Fatalf("sent %d contents, want history + prompt = 3", len(gotBody.Contents))
	}
	if gotBody.Contents[1].Role != "model" {
		t.Errorf("history role = %q, want model", gotBody.Contents[1].Role)
	}
	if gotBody.Contents[2].Parts[0].Text != "hi" {
		t.Errorf("prompt = %q", gotBody.Contents[2].Parts[0].Text)
	}
}

func TestGenerateQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota",
			"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}]}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gemini-2.0-flash", srv.URL)
	_, err := c.Generate(context.Background(), "hi", nil)
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if quotaErr.RetryAfter != 7 {
		t.Errorf("retry after = %d, want 7", quotaErr.RetryAfter)
	}
}

func TestGenerateQuotaDefaultRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gemini-2.0-flash", srv.URL)
	_, err := c.Generate(context.Background(), "hi", nil)
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if quotaErr.RetryAfter != defaultRetryAfter {
		t.Errorf("retry after = %d, want default %d", quotaErr.RetryAfter, defaultRetryAfter)
	}
}

func TestGenerateModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"model not found"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "no-such-model", srv.URL)
	_, err := c.Generate(context.Background(), "hi", nil)
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestGenerateNotConfigured(t *testing.T) {
	c := NewClient("", "gemini-2.0-flash", "http://unused")
	if _, err := c.Generate(context.Background(), "hi", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if c.Enabled() {
		t.Error("Enabled() should be false without a key")
	}
}

func TestGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gemini-2.0-flash", srv.URL)
	if _, err := c.Generate(context.Background(), "hi", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}
