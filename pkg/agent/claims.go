package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/songyu-ren/xagent/pkg/llm"
)

// opinionMarkers exclude subjective sentences from claim extraction.
var opinionMarkers = []string{
	"i think", "i feel", "my take", "opinion", "i learned", "lesson",
}

var sentenceSplit = regexp.MustCompile(`[\n\.!\?]`)

// ClaimExtractor optionally proposes factual claims for a draft. Any failure
// falls back silently to the deterministic splitter.
type ClaimExtractor interface {
	ExtractClaims(ctx context.Context, tweets []string) ([]string, error)
}

// extractClaims returns the claim list for the draft, via the optional LLM
// path when configured.
func (e *PolicyEngine) extractClaims(ctx context.Context, tweets []string) []string {
	if e.claimsLLM != nil {
		if claims, err := e.claimsLLM.ExtractClaims(ctx, tweets); err == nil && len(claims) > 0 {
			if len(claims) > maxClaims {
				claims = claims[:maxClaims]
			}
			return claims
		}
	}
	return ExtractClaims(tweets)
}

// ExtractClaims is the deterministic splitter: sentences split on newline and
// terminal punctuation, with opinions and short fragments excluded.
func ExtractClaims(tweets []string) []string {
	var claims []string
	for _, t := range tweets {
		for _, part := range sentenceSplit.Split(t, -1) {
			s := strings.TrimSpace(part)
			if s == "" {
				continue
			}
			if looksLikeOpinion(s) {
				continue
			}
			if len(tokenize(s)) < 4 {
				continue
			}
			claims = append(claims, s)
		}
	}
	if len(claims) > maxClaims {
		claims = claims[:maxClaims]
	}
	return claims
}

func looksLikeOpinion(sentence string) bool {
	low := strings.ToLower(sentence)
	for _, m := range opinionMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// LLMClaimExtractor asks the model for claims, parsing a JSON string array.
type LLMClaimExtractor struct {
	llm llm.Chatter
}

// NewLLMClaimExtractor wraps a chatter as a ClaimExtractor.
func NewLLMClaimExtractor(chatter llm.Chatter) *LLMClaimExtractor {
	return &LLMClaimExtractor{llm: chatter}
}

// ExtractClaims implements ClaimExtractor.
func (x *LLMClaimExtractor) ExtractClaims(ctx context.Context, tweets []string) ([]string, error) {
	prompt := "Extract the verifiable factual claims from these tweets as a JSON array " +
		"of strings. Exclude opinions and feelings. Tweets:\n" + mustJSON(tweets) +
		"\nReturn JSON only."
	raw, err := llm.ChatWithRetry(ctx, x.llm, prompt)
	if err != nil {
		return nil, err
	}
	var claims []string
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

var _ ClaimExtractor = (*LLMClaimExtractor)(nil)
