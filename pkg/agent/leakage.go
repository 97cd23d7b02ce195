package agent

import "regexp"

// leakagePattern is a pre-compiled secret-shape detector.
type leakagePattern struct {
	name  string
	regex *regexp.Regexp
}

// leakagePatterns cover the credential shapes that must never reach a public
// post: PEM private-key markers, JWTs, provider API keys, AWS access key ids,
// and long hex or base64 runs that look like key material.
var leakagePatterns = []leakagePattern{
	{"pem_private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}`)},
	{"api_key", regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"long_hex", regexp.MustCompile(`\b[0-9a-fA-F]{40,}\b`)},
	{"long_base64", regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)},
}

// checkLeakage scans every tweet against the leakage patterns. Returned hits
// name the pattern, never the matched secret.
func checkLeakage(tweets []string) (bool, []string) {
	hitSet := make(map[string]bool)
	for _, t := range tweets {
		for _, p := range leakagePatterns {
			if p.regex.MatchString(t) {
				hitSet[p.name] = true
			}
		}
	}
	if len(hitSet) == 0 {
		return true, nil
	}
	hits := make([]string, 0, len(hitSet))
	for _, p := range leakagePatterns {
		if hitSet[p.name] {
			hits = append(hits, p.name)
		}
	}
	return false, hits
}
