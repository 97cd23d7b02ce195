package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultBlockedTerms is the fallback when the blocked-terms file is missing
// or unreadable.
var defaultBlockedTerms = []string{"password", "secret", "token", "api_key"}

type blockedTermsFile struct {
	BlockedTerms []string `yaml:"blocked_terms"`
}

// LoadBlockedTerms reads the case-insensitive substring list from the YAML
// file at path. Terms are lowercased and de-blanked. A missing or malformed
// file falls back to the built-in defaults.
func LoadBlockedTerms(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultBlockedTerms
	}
	var f blockedTermsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return defaultBlockedTerms
	}
	terms := make([]string, 0, len(f.BlockedTerms))
	for _, t := range f.BlockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return defaultBlockedTerms
	}
	return terms
}

// ParseBlockedTermsYAML parses blocked terms from raw YAML content. Used when
// an app_config override replaces the file contents.
func ParseBlockedTermsYAML(content string) ([]string, error) {
	var f blockedTermsFile
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return nil, fmt.Errorf("parsing blocked terms: %w", err)
	}
	terms := make([]string, 0, len(f.BlockedTerms))
	for _, t := range f.BlockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms, nil
}
