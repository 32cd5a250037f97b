// Package config loads and validates the briefly.yaml configuration,
// merging user settings over built-in defaults and expanding environment
// variables inside YAML values.
package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string

	System    *SystemConfig    `yaml:"system"`
	LLM       *LLMConfig       `yaml:"llm"`
	OAuth     *OAuthConfig     `yaml:"oauth"`
	Search    *SearchConfig    `yaml:"search"`
	Push      *PushConfig      `yaml:"push"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Retention *RetentionConfig `yaml:"retention"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// DeploymentEnv toggles the secure cookie flag ("production" enables it).
	DeploymentEnv string `yaml:"deployment_env"`
	// SessionSecret signs session cookies and service bearer tokens.
	SessionSecret string `yaml:"session_secret"`
	// CronSecret guards the /cron endpoints. Empty leaves them open,
	// intended only for development.
	CronSecret string `yaml:"cron_secret"`
	// AllowedOrigins restricts CORS for the HTTP API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig holds the completion client settings.
type LLMConfig struct {
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
}

// OAuthConfig holds the provider OAuth client credentials used by the
// token guard for refresh calls.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// SearchConfig holds the optional web-search capability. An empty
// endpoint disables web research; the pipeline degrades to email-only
// facts.
type SearchConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// Enabled reports whether web search is configured.
func (s *SearchConfig) Enabled() bool { return s != nil && s.Endpoint != "" }

// PushConfig holds the optional push-notification webhook. An empty URL
// disables notifications (nil push service).
type PushConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	AuthToken  string   `yaml:"auth_token"`
	Timeout    Duration `yaml:"timeout"`
}

// SchedulerConfig controls the periodic drivers.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// MidnightBatch enables the per-user local-midnight bulk generator.
	// Disabled by default: the hourly sweep is the authoritative source
	// of scheduled briefs and the two generators overlap.
	MidnightBatch bool `yaml:"midnight_batch"`
	// DailySummaryHour is the local hour for the daily summary push.
	DailySummaryHour int `yaml:"daily_summary_hour"`
	// ReminderLeadMinutes is how far ahead meeting reminders fire.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes"`
}

// RetentionConfig controls how long generated artifacts are kept.
// Briefs lose value quickly after the meeting, so the defaults are short.
type RetentionConfig struct {
	// BriefRetentionDays keeps briefs and day preps this many days.
	BriefRetentionDays int `yaml:"brief_retention_days"`
	// ReminderRetentionDays keeps reminder dedupe rows this many days.
	ReminderRetentionDays int `yaml:"reminder_retention_days"`
	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// PipelineConfig exposes the prompt-tuned batch sizes and corpus caps as
// knobs. The pipeline invariants hold for any batch size >= 1.
type PipelineConfig struct {
	EmailFilterBatch  int `yaml:"email_filter_batch"`
	DocFilterBatch    int `yaml:"doc_filter_batch"`
	ExtractionBatch   int `yaml:"extraction_batch"`
	DocAnalysisBatch  int `yaml:"doc_analysis_batch"`
	MaxEmails         int `yaml:"max_emails"`
	MaxFiles          int `yaml:"max_files"`
	MaxAnalyzedDocs   int `yaml:"max_analyzed_docs"`
	MaxCalendarEvents int `yaml:"max_calendar_events"`
	// ResearchAttendeeCap bounds per-meeting attendee research fan-out.
	ResearchAttendeeCap int `yaml:"research_attendee_cap"`
}
