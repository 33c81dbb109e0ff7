package config

const (
	defaultDataDir             = "~/.local/share/shiftwatch/data"
	defaultLogDir              = "~/.local/share/shiftwatch/logs"
	defaultRosterPath          = "~/.config/shiftwatch/roster.json"
	defaultChatAPIBaseURL      = "https://api.groupme.com/v3"
	defaultChatTimeoutSeconds  = 30
	defaultChatFetchLimit      = 20
	defaultCalendarTimeout     = 30
	defaultCalendarRetries     = 3
	defaultLLMBaseURL          = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel            = "gpt-4o-mini"
	defaultLLMTimeoutSeconds   = 60
	defaultConfidenceThreshold = 50
	defaultMaxRetryAttempts    = 3
	defaultMessageTTLHours     = 24
	defaultWorkflowTTLHours    = 24
	defaultInteractionLimit    = 2
	defaultLockStaleMinutes    = 30
	defaultPollIntervalSeconds = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Chat: Chat{
			APIBaseURL:     defaultChatAPIBaseURL,
			TimeoutSeconds: defaultChatTimeoutSeconds,
			FetchLimit:     defaultChatFetchLimit,
			PostingEnabled: true,
		},
		Calendar: Calendar{
			TimeoutSeconds: defaultCalendarTimeout,
			RetryAttempts:  defaultCalendarRetries,
		},
		LLM: LLM{
			BaseURL:             defaultLLMBaseURL,
			Model:               defaultLLMModel,
			TimeoutSeconds:      defaultLLMTimeoutSeconds,
			ConfidenceThreshold: defaultConfidenceThreshold,
		},
		Queue: Queue{
			MaxRetryAttempts: defaultMaxRetryAttempts,
			MessageTTLHours:  defaultMessageTTLHours,
		},
		Workflow: Workflow{
			TTLHours:         defaultWorkflowTTLHours,
			InteractionLimit: defaultInteractionLimit,
		},
		Lock: Lock{
			StaleMinutes: defaultLockStaleMinutes,
		},
		Roster: Roster{
			Path: defaultRosterPath,
		},
		Poller: Poller{
			IntervalSeconds: defaultPollIntervalSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
