package config

import "time"

// builtinDefaults returns the built-in configuration. User YAML is
// merged over this with mergo, so every knob has a sane zero-config
// value.
func builtinDefaults() *Config {
	return &Config{
		System: &SystemConfig{
			ListenAddr:    ":8080",
			DeploymentEnv: "development",
		},
		LLM: &LLMConfig{
			Model:       "claude-sonnet-4-5",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			MaxTokens:   4096,
			Temperature: 0.2,
			Timeout:     Duration(60 * time.Second),
		},
		OAuth: &OAuthConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Search: &SearchConfig{
			Timeout: Duration(60 * time.Second),
		},
		Push: &PushConfig{
			Timeout: Duration(10 * time.Second),
		},
		Scheduler: &SchedulerConfig{
			Enabled:             true,
			MidnightBatch:       false,
			DailySummaryHour:    9,
			ReminderLeadMinutes: 15,
		},
		Retention: &RetentionConfig{
			BriefRetentionDays:    30,
			ReminderRetentionDays: 7,
			CleanupInterval:       Duration(6 * time.Hour),
		},
		Pipeline: &PipelineConfig{
			EmailFilterBatch:    25,
			DocFilterBatch:      50,
			ExtractionBatch:     20,
			DocAnalysisBatch:    5,
			MaxEmails:           100,
			MaxFiles:            200,
			MaxAnalyzedDocs:     20,
			MaxCalendarEvents:   100,
			ResearchAttendeeCap: 10,
		},
	}
}
