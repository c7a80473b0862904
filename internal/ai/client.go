package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotConfigured means no API key was provided.
	ErrNotConfigured = errors.New("ai: api key not configured")
	// ErrModelNotFound means the configured model name was rejected upstream.
	ErrModelNotFound = errors.New("ai: model not found")
	// ErrEmptyResponse means the model returned no usable candidates.
	ErrEmptyResponse = errors.New("ai: empty response")
)

// QuotaError is returned when the upstream quota is exhausted. RetryAfter
// carries the retry delay in seconds reported by the API (or a default).
type QuotaError struct {
	RetryAfter int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("ai: quota exceeded, retry after %ds", e.RetryAfter)
}

const defaultRetryAfter = 30

// Client calls the generative-language REST API. With an empty API key all
// methods return ErrNotConfigured.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, model, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// Turn is one prior exchange in the conversation. Role is "user" or "model".
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Generate sends the prompt (with optional prior turns) to the configured
// model and returns the concatenated text of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string, history []Turn) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	contents := make([]content, 0, len(history)+1)
	for _, t := range history {
		role := t.Role
		if role != "model" {
			role = "user"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: prompt}}})

	body, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return "", fmt.Errorf("ai.Generate encode: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai.Generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai.Generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai.Generate read: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.decodeError(resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ai.Generate decode: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) decodeError(status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)

	switch status {
	case http.StatusTooManyRequests:
		return &QuotaError{RetryAfter: retryAfterSeconds(apiErr)}
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, c.model)
	}
	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return fmt.Errorf("ai: upstream status %d: %s", status, msg)
}

// retryAfterSeconds extracts the RetryInfo delay ("37s") from error details.
func retryAfterSeconds(apiErr apiError) int {
	for _, d := range apiErr.Error.Details {
		if !strings.HasSuffix(d.Type, "RetryInfo") || d.RetryDelay == "" {
			continue
		}
		v := strings.TrimSuffix(d.RetryDelay, "s")
		if sec, err := strconv.ParseFloat(v, 64); err == nil && sec > 0 {
			return int(sec + 0.5)
		}
	}
	return defaultRetryAfter
}
