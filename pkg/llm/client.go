// Package llm wraps the Anthropic Messages API behind the narrow chat
// contract the generation stages consume. The LLM is never on the
// correctness path: every caller degrades to a deterministic fallback.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Chatter is the adapter contract stages depend on. The returned string is
// expected to be JSON; callers parse and fall back on any error.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Client is the production Chatter backed by the Anthropic API.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
}

// NewClient creates an LLM client for the given model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		api:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 2048,
	}
}

// Model returns the configured model name for telemetry.
func (c *Client) Model() string { return c.model }

// Chat sends a single-turn prompt and returns the text of the response.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("llm returned no text content")
	}
	return sb.String(), nil
}

// ExtractJSON strips markdown code fences that models sometimes wrap around
// JSON output and trims to the outermost object or array.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

// LogFallback records a stage falling back to its deterministic default.
func LogFallback(stage string, err error) {
	slog.Warn("LLM path failed, using deterministic fallback", "stage", stage, "error", err)
}
