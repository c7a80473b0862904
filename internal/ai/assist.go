package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Suggestion is one message-completion candidate with a rank-derived
// confidence.
type Suggestion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Insight is one conversation observation (sentiment, topics or summary).
type Insight struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

const (
	maxSuggestions     = 3
	maxSuggestionLen   = 150
	suggestHistoryTail = 3
	insightMessageTail = 20
)

// Suggest asks the model for up to three short completions of what the user
// is currently typing. history carries the last lines of the surrounding
// conversation for context.
func (c *Client) Suggest(ctx context.Context, currentInput string, history []string) ([]Suggestion, error) {
	if len(history) > suggestHistoryTail {
		history = history[len(history)-suggestHistoryTail:]
	}
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Previous conversation:\n")
		sb.WriteString(strings.Join(history, "\n"))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, `User is typing: %q

Generate 3 short, natural message completion suggestions (max 20 words each) that:
1. Complete the user's thought naturally
2. Are contextually relevant
3. Sound conversational and human-like
4. Are different from each other

Return ONLY a JSON array of strings, no other text. Example: ["suggestion 1", "suggestion 2", "suggestion 3"]`, currentInput)

	raw, err := c.Generate(ctx, sb.String(), nil)
	if err != nil {
		return nil, err
	}
	return parseSuggestions(raw, currentInput), nil
}

// parseSuggestions extracts the model's suggestion list: a JSON array if
// present, otherwise plain lines, otherwise templates from the input.
func parseSuggestions(raw, currentInput string) []Suggestion {
	var texts []string
	if arr, ok := extractJSONArray(raw); ok {
		if err := json.Unmarshal([]byte(arr), &texts); err != nil {
			texts = nil
		}
	}
	if len(texts) == 0 {
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-•0123456789. ")
			line = strings.ReplaceAll(line, `"`, "")
			if line != "" && len(line) < 100 {
				texts = append(texts, line)
			}
		}
	}
	if len(texts) == 0 {
		lower := strings.ToLower(currentInput)
		texts = []string{
			currentInput + "...",
			"I think " + lower + "...",
			"Let me know about " + lower + "...",
		}
	}

	out := make([]Suggestion, 0, maxSuggestions)
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" || len(t) >= maxSuggestionLen {
			continue
		}
		out = append(out, Suggestion{Text: t, Confidence: 0.9 - float64(len(out))*0.1})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// Insights analyzes the tail of a conversation and returns brief
// observations about its sentiment, topics and content. lines are
// pre-formatted "User:"/"Other:" transcript lines.
func (c *Client) Insights(ctx context.Context, lines []string) ([]Insight, error) {
	if len(lines) > insightMessageTail {
		lines = lines[len(lines)-insightMessageTail:]
	}
	prompt := fmt.Sprintf(`Analyze this conversation and provide 2-3 brief insights (max 50 words each):

%s

Provide insights about:
1. Overall sentiment/tone
2. Main topics discussed
3. Brief summary

Return ONLY a JSON array with this format:
[
  {"type": "sentiment", "title": "Sentiment", "content": "brief analysis"},
  {"type": "topic", "title": "Topics", "content": "main topics"},
  {"type": "summary", "title": "Summary", "content": "brief summary"}
]`, strings.Join(lines, "\n"))

	raw, err := c.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}
	return parseInsights(raw), nil
}

func parseInsights(raw string) []Insight {
	var insights []Insight
	if arr, ok := extractJSONArray(raw); ok {
		if err := json.Unmarshal([]byte(arr), &insights); err != nil {
			insights = nil
		}
	}
	if len(insights) == 0 {
		insights = []Insight{{
			Type:    "summary",
			Title:   "Conversation Summary",
			Content: "Active conversation with multiple exchanges",
		}}
	}
	return insights
}

// extractJSONArray returns the outermost bracketed span of s, covering
// models that wrap their JSON in prose or code fences.
func extractJSONArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
