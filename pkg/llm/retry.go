package llm

import (
	"context"
	"time"
)

// retry policy for outbound LLM calls: bounded exponential backoff.
const (
	maxAttempts  = 3
	initialDelay = 500 * time.Millisecond
)

// ChatWithRetry calls c.Chat with bounded exponential backoff. The last error
// is returned after exhaustion; cancellation aborts between attempts.
func ChatWithRetry(ctx context.Context, c Chatter, prompt string) (string, error) {
	delay := initialDelay
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		out, err := c.Chat(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", lastErr
}
