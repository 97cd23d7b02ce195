package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/songyu-ren/xagent/pkg/models"
)

// evidenceScoreFloor is the minimum Jaccard score for a snippet to ground a
// claim.
const evidenceScoreFloor = 0.2

// maxClaims bounds the extracted claim list.
const maxClaims = 20

// marketingPhrases always count as forbidden, regardless of the learned style.
var marketingPhrases = []string{
	"game changer", "revolutionary", "explosive growth", "world changing",
}

// exaggerationMarkers flag overclaiming language.
var exaggerationMarkers = []string{
	"insane", "unbelievable", "guarantee", "always", "never", "massive",
}

// PolicyInput is everything the engine evaluates over. The engine itself is
// deterministic over this input.
type PolicyInput struct {
	Edited              *models.EditedDraft
	Materials           *models.Materials
	RecentPosts         []string
	Style               models.StyleProfile
	BlockedTerms        []string
	SimilarityThreshold float64
}

// PolicyEngine runs the independent checks and resolves the verdict. An
// optional LLM may propose claims; any error there silently falls back to the
// deterministic splitter.
type PolicyEngine struct {
	claimsLLM ClaimExtractor
}

// NewPolicyEngine creates the policy stage. claimsLLM may be nil.
func NewPolicyEngine(claimsLLM ClaimExtractor) *PolicyEngine {
	return &PolicyEngine{claimsLLM: claimsLLM}
}

// Execute evaluates the draft and returns the report plus the stage log.
func (e *PolicyEngine) Execute(ctx context.Context, input PolicyInput) (*models.PolicyReport, models.AgentLog) {
	report, log, _ := runStage("Policy", summarize(input.Edited),
		func(out *stageOutcome) (*models.PolicyReport, error) {
			return e.Evaluate(ctx, input), nil
		})
	return report, log
}

// Evaluate runs every check and resolves (action, risk) over the failures.
func (e *PolicyEngine) Evaluate(ctx context.Context, input PolicyInput) *models.PolicyReport {
	tweets := input.Edited.TweetList()

	var checks []models.PolicyCheckResult
	var offendingSpans []string

	lengthOK, lengthDetails := checkLength(tweets)
	checks = append(checks, models.PolicyCheckResult{CheckName: "length_ok", Passed: lengthOK, Details: lengthDetails})

	sensitiveOK, sensitiveHits := checkBlockedTerms(tweets, input.BlockedTerms)
	details := "none"
	if !sensitiveOK {
		details = strings.Join(clip(sensitiveHits, 10), ",")
	}
	checks = append(checks, models.PolicyCheckResult{CheckName: "sensitive_ok", Passed: sensitiveOK, Details: details})
	offendingSpans = append(offendingSpans, sensitiveHits...)

	leakageOK, leakageHits := checkLeakage(tweets)
	details = "none"
	if !leakageOK {
		details = strings.Join(clip(leakageHits, 10), ",")
	}
	checks = append(checks, models.PolicyCheckResult{CheckName: "leakage_ok", Passed: leakageOK, Details: details})
	offendingSpans = append(offendingSpans, leakageHits...)

	similarityOK, simDetails := checkSimilarity(tweets, input.RecentPosts, input.SimilarityThreshold)
	checks = append(checks, models.PolicyCheckResult{CheckName: "similarity_ok", Passed: similarityOK, Details: simDetails})

	markerOK, markerDetails := checkThreadMarkers(input.Edited.Mode, tweets)
	checks = append(checks, models.PolicyCheckResult{CheckName: "thread_marker_ok", Passed: markerOK, Details: markerDetails})

	toneOK, toneDetails := checkTone(tweets, input.Style)
	checks = append(checks, models.PolicyCheckResult{CheckName: "tone_ok", Passed: toneOK, Details: toneDetails})

	claims := e.extractClaims(ctx, tweets)
	evidenceMap, unsupported := mapEvidence(claims, input.Materials)
	factOK := len(unsupported) == 0
	details = "all grounded"
	if !factOK {
		details = fmt.Sprintf("unsupported=%d", len(unsupported))
	}
	checks = append(checks, models.PolicyCheckResult{CheckName: "fact_grounded_ok", Passed: factOK, Details: details})
	offendingSpans = append(offendingSpans, clip(unsupported, 10)...)

	var failures []string
	for _, c := range checks {
		if !c.Passed {
			failures = append(failures, c.CheckName)
		}
	}

	if len(failures) == 0 {
		return &models.PolicyReport{
			Checks:            checks,
			RiskLevel:         models.RiskLow,
			Action:            models.ActionPass,
			Claims:            claims,
			EvidenceMap:       evidenceMap,
			UnsupportedClaims: []string{},
			OffendingSpans:    []string{},
		}
	}

	action, risk := decideAction(failures)
	return &models.PolicyReport{
		Checks:            checks,
		RiskLevel:         risk,
		Action:            action,
		Claims:            claims,
		EvidenceMap:       evidenceMap,
		UnsupportedClaims: unsupported,
		OffendingSpans:    offendingSpans,
	}
}

// decideAction resolves (action, risk) over the set of failing check names.
func decideAction(failures []string) (string, string) {
	names := make(map[string]bool, len(failures))
	for _, f := range failures {
		names[f] = true
	}
	if names["sensitive_ok"] || names["leakage_ok"] {
		return models.ActionHold, models.RiskHigh
	}
	if names["fact_grounded_ok"] {
		return models.ActionRewrite, models.RiskHigh
	}
	if names["length_ok"] || names["similarity_ok"] || names["tone_ok"] || names["thread_marker_ok"] {
		return models.ActionRewrite, models.RiskMedium
	}
	return models.ActionPass, models.RiskLow
}

func checkLength(tweets []string) (bool, string) {
	var bad []string
	for i, t := range tweets {
		if n := utf8.RuneCountInString(t); n > tweetHardLimit {
			bad = append(bad, fmt.Sprintf("%d:%d", i+1, n))
		}
	}
	if len(bad) == 0 {
		return true, "ok"
	}
	return false, "too_long=" + strings.Join(bad, ";")
}

func checkBlockedTerms(tweets, blockedTerms []string) (bool, []string) {
	hitSet := make(map[string]bool)
	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, term := range blockedTerms {
			if term != "" && strings.Contains(low, term) {
				hitSet[term] = true
			}
		}
	}
	if len(hitSet) == 0 {
		return true, nil
	}
	hits := make([]string, 0, len(hitSet))
	for h := range hitSet {
		hits = append(hits, h)
	}
	sort.Strings(hits)
	return false, hits
}

func checkSimilarity(tweets, recentPosts []string, threshold float64) (bool, string) {
	if len(recentPosts) == 0 {
		return true, "no_recent_posts"
	}
	worst := 0.0
	for _, t := range tweets {
		tset := tokenize(t)
		for _, p := range recentPosts {
			score := jaccard(tset, tokenize(p))
			if score > worst {
				worst = score
			}
			if score >= threshold {
				return false, fmt.Sprintf("jaccard=%.2f>=threshold", score)
			}
		}
	}
	return true, fmt.Sprintf("max_jaccard=%.2f", worst)
}

func checkThreadMarkers(mode string, tweets []string) (bool, string) {
	if mode == models.ModeThread {
		return true, "thread_allowed"
	}
	for _, t := range tweets {
		if strings.Contains(t, "1/") || strings.Contains(t, "/1") {
			return false, "thread_marker_in_single"
		}
	}
	return true, "ok"
}

func checkTone(tweets []string, style models.StyleProfile) (bool, string) {
	forbidden := make(map[string]bool)
	for _, p := range style.ForbiddenPhrases {
		if p = strings.ToLower(p); p != "" {
			forbidden[p] = true
		}
	}
	for _, p := range marketingPhrases {
		forbidden[p] = true
	}

	for _, t := range tweets {
		if strings.Contains(t, "#") {
			return false, "hashtags_not_allowed"
		}
	}
	for _, t := range tweets {
		if containsEmoji(t) {
			return false, "emoji_not_allowed"
		}
	}

	hitSet := make(map[string]bool)
	for _, t := range tweets {
		low := strings.ToLower(t)
		for phrase := range forbidden {
			if strings.Contains(low, phrase) {
				hitSet[phrase] = true
			}
		}
	}
	if len(hitSet) > 0 {
		hits := make([]string, 0, len(hitSet))
		for h := range hitSet {
			hits = append(hits, h)
		}
		sort.Strings(hits)
		return false, "forbidden_phrases=" + strings.Join(clip(hits, 10), ",")
	}

	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, marker := range exaggerationMarkers {
			if strings.Contains(low, marker) {
				return false, "exaggeration_detected"
			}
		}
	}
	return true, "ok"
}

// containsEmoji reports whether text contains a code point in the emoji
// blocks U+1F300..U+1FAFF.
func containsEmoji(text string) bool {
	for _, r := range text {
		if r >= 0x1F300 && r <= 0x1FAFF {
			return true
		}
	}
	return false
}

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// tokenize lowercases and keeps word tokens of length >= 3.
func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}

// jaccard computes set similarity; empty sets score zero.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// mapEvidence scores every claim against every evidence snippet, keeping the
// top two refs at or above the floor. Claims with no qualifying evidence go
// into the unsupported list.
func mapEvidence(claims []string, materials *models.Materials) (map[string][]models.EvidenceRef, []string) {
	evidence := materials.Evidence()
	evidenceMap := make(map[string][]models.EvidenceRef)
	var unsupported []string

	for _, claim := range claims {
		cset := tokenize(claim)
		type scored struct {
			score float64
			item  models.EvidenceItem
		}
		var matches []scored
		for _, item := range evidence {
			score := jaccard(cset, tokenize(item.RawSnippet))
			if score > 0 {
				matches = append(matches, scored{score, item})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

		var refs []models.EvidenceRef
		for _, m := range matches {
			if len(refs) >= 2 {
				break
			}
			if m.score < evidenceScoreFloor {
				break
			}
			quote := m.item.RawSnippet
			if len(quote) > 180 {
				quote = quote[:180]
			}
			refs = append(refs, models.EvidenceRef{
				SourceName: m.item.SourceName,
				SourceID:   m.item.SourceID,
				Quote:      quote,
			})
		}
		if len(refs) == 0 {
			unsupported = append(unsupported, claim)
			continue
		}
		evidenceMap[claim] = refs
	}
	return evidenceMap, unsupported
}
