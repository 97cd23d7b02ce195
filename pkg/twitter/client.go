// Package twitter is the downstream social API adapter. The publish
// coordinator is responsible for idempotency; this client only creates
// tweets.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client creates tweets downstream. Implementations are stateless and safe
// for concurrent use.
type Client interface {
	CreateTweet(ctx context.Context, text, inReplyTo string) (string, error)
}

// HTTPClient talks to the X API v2 with a bearer token, behind a circuit
// breaker so a flapping downstream fails fast instead of burning retries.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewHTTPClient creates the production client.
func NewHTTPClient(bearerToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com",
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "twitter",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type createTweetRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CreateTweet implements Client.
func (c *HTTPClient) CreateTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.createTweet(ctx, text, inReplyTo)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClient) createTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	payload := createTweetRequest{Text: text}
	if inReplyTo != "" {
		payload.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: inReplyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tweet request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tweet rejected with status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed createTweetResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Data.ID == "" {
		return "", fmt.Errorf("no tweet id in response")
	}
	return parsed.Data.ID, nil
}

func truncateBody(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
