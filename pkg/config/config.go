// Package config loads runtime settings from the environment and from the
// blocked-terms file. Runtime-tunable overrides live in the app_config table
// and are layered on top by the services that read them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds every environment-derived setting the pipeline reads.
type Settings struct {
	Env           string
	BasePublicURL string
	HTTPPort      string
	GinMode       string

	// Scheduler
	ScheduleCron     string
	StyleCron        string
	WeeklyReportCron string
	Timezone         string

	// Collection
	GitRepoPath string
	DevlogPath  string

	// LLM
	AnthropicAPIKey string
	LLMModel        string
	LLMTimeout      time.Duration

	// Social API
	TwitterBearerToken string
	DryRun             bool

	// Pipeline controls
	TokenTTLHours       int
	RewriteMax          int
	SimilarityThreshold float64
	BlockedTermsPath    string
	RecentPostsDays     int

	// Thread policy
	ThreadEnabled          bool
	ThreadMaxTweets        int
	ThreadNumberingEnabled bool

	// Sources
	EnableSourceGitHub bool
	GitHubToken        string
	GitHubRepo         string
	EnableSourceRSS    bool
	RSSFeedURLs        []string

	// Email
	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
	EmailTo      string

	// Slack
	EnableSlack  bool
	SlackToken   string
	SlackChannel string

	// Workers & retention
	WorkerCount     int
	QueueSize       int
	CleanupInterval time.Duration

	// Style learning
	StyleInputPosts int
}

// Load reads settings from the environment, applying defaults.
func Load() (*Settings, error) {
	s := &Settings{
		Env:           getEnv("ENV", "development"),
		BasePublicURL: getEnv("BASE_PUBLIC_URL", "http://localhost:8080"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "release"),

		ScheduleCron:     getEnv("SCHEDULE_CRON", "0 9 * * *"),
		StyleCron:        getEnv("STYLE_CRON", "30 8 * * 1"),
		WeeklyReportCron: getEnv("WEEKLY_REPORT_CRON", "0 10 * * 1"),
		Timezone:         getEnv("TIMEZONE", "UTC"),

		GitRepoPath: getEnv("GIT_REPO_PATH", "."),
		DevlogPath:  getEnv("DEVLOG_PATH", "devlog.md"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:        getEnv("LLM_MODEL", "claude-sonnet-4-5"),

		TwitterBearerToken: os.Getenv("TWITTER_BEARER_TOKEN"),

		BlockedTermsPath: getEnv("BLOCKED_TERMS_PATH", "./blocked_terms.yaml"),

		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubRepo:   os.Getenv("GITHUB_REPO"),
		SMTPServer:   getEnv("SMTP_SERVER", "localhost"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		EmailFrom:    getEnv("EMAIL_FROM", "daily-agent@example.com"),
		EmailTo:      getEnv("EMAIL_TO", "me@example.com"),
		SlackToken:   os.Getenv("SLACK_TOKEN"),
		SlackChannel: getEnv("SLACK_CHANNEL", "#daily-drafts"),
	}

	var err error
	if s.TokenTTLHours, err = getInt("TOKEN_TTL_HOURS", 36); err != nil {
		return nil, err
	}
	if s.RewriteMax, err = getInt("REWRITE_MAX", 1); err != nil {
		return nil, err
	}
	if s.SimilarityThreshold, err = getFloat("SIMILARITY_THRESHOLD", 0.6); err != nil {
		return nil, err
	}
	if s.RecentPostsDays, err = getInt("RECENT_POSTS_DAYS", 14); err != nil {
		return nil, err
	}
	if s.ThreadMaxTweets, err = getInt("THREAD_MAX_TWEETS", 5); err != nil {
		return nil, err
	}
	if s.SMTPPort, err = getInt("SMTP_PORT", 1025); err != nil {
		return nil, err
	}
	if s.WorkerCount, err = getInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if s.QueueSize, err = getInt("QUEUE_SIZE", 16); err != nil {
		return nil, err
	}
	if s.StyleInputPosts, err = getInt("STYLE_INPUT_POSTS", 30); err != nil {
		return nil, err
	}

	s.DryRun = getBool("DRY_RUN", true)
	s.ThreadEnabled = getBool("THREAD_ENABLED", false)
	s.ThreadNumberingEnabled = getBool("THREAD_NUMBERING_ENABLED", true)
	s.EnableSourceGitHub = getBool("ENABLE_SOURCE_GITHUB", false)
	s.EnableSourceRSS = getBool("ENABLE_SOURCE_RSS", false)
	s.EnableSlack = getBool("ENABLE_SLACK", false)

	if s.LLMTimeout, err = getDuration("LLM_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if s.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if raw := os.Getenv("RSS_FEED_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				s.RSSFeedURLs = append(s.RSSFeedURLs, u)
			}
		}
	}

	if s.RewriteMax < 0 {
		return nil, fmt.Errorf("REWRITE_MAX must be >= 0, got %d", s.RewriteMax)
	}
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("SIMILARITY_THRESHOLD must be in (0,1], got %v", s.SimilarityThreshold)
	}
	if s.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be >= 1, got %d", s.WorkerCount)
	}

	return s, nil
}

// TokenTTL returns the action-token and draft lifetime as a duration.
func (s *Settings) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLHours) * time.Hour
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
