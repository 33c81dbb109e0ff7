package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeChat(); err != nil {
		return err
	}
	c.normalizeCalendar()
	c.normalizeLLM()
	c.normalizeQueue()
	c.normalizeWorkflow()
	if err := c.normalizeLock(); err != nil {
		return err
	}
	if err := c.normalizeRoster(); err != nil {
		return err
	}
	c.normalizePoller()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeChat() error {
	c.Chat.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Chat.APIBaseURL), "/")
	if c.Chat.APIBaseURL == "" {
		c.Chat.APIBaseURL = defaultChatAPIBaseURL
	}
	c.Chat.APIToken = strings.TrimSpace(c.Chat.APIToken)
	if c.Chat.APIToken == "" {
		if value, ok := os.LookupEnv("SHIFTWATCH_CHAT_TOKEN"); ok {
			c.Chat.APIToken = strings.TrimSpace(value)
		}
	}
	c.Chat.GroupID = strings.TrimSpace(c.Chat.GroupID)
	c.Chat.BotID = strings.TrimSpace(c.Chat.BotID)
	c.Chat.BotName = strings.TrimSpace(c.Chat.BotName)
	if c.Chat.TimeoutSeconds <= 0 {
		c.Chat.TimeoutSeconds = defaultChatTimeoutSeconds
	}
	if c.Chat.FetchLimit <= 0 {
		c.Chat.FetchLimit = defaultChatFetchLimit
	}
	admins := make([]string, 0, len(c.Chat.AdminUserIDs))
	for _, id := range c.Chat.AdminUserIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	c.Chat.AdminUserIDs = admins
	return nil
}

func (c *Config) normalizeCalendar() {
	c.Calendar.ServiceURL = strings.TrimSpace(c.Calendar.ServiceURL)
	if c.Calendar.TimeoutSeconds <= 0 {
		c.Calendar.TimeoutSeconds = defaultCalendarTimeout
	}
	if c.Calendar.RetryAttempts <= 0 {
		c.Calendar.RetryAttempts = defaultCalendarRetries
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("SHIFTWATCH_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.ConfidenceThreshold <= 0 {
		c.LLM.ConfidenceThreshold = defaultConfidenceThreshold
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxRetryAttempts <= 0 {
		c.Queue.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	if c.Queue.MessageTTLHours <= 0 {
		c.Queue.MessageTTLHours = defaultMessageTTLHours
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.TTLHours <= 0 {
		c.Workflow.TTLHours = defaultWorkflowTTLHours
	}
	if c.Workflow.InteractionLimit <= 0 {
		c.Workflow.InteractionLimit = defaultInteractionLimit
	}
}

func (c *Config) normalizeLock() error {
	var err error
	if strings.TrimSpace(c.Lock.Path) == "" {
		c.Lock.Path = filepath.Join(c.Paths.DataDir, "poller.lock.json")
	}
	if c.Lock.Path, err = expandPath(c.Lock.Path); err != nil {
		return fmt.Errorf("lock.path: %w", err)
	}
	if c.Lock.StaleMinutes <= 0 {
		c.Lock.StaleMinutes = defaultLockStaleMinutes
	}
	return nil
}

func (c *Config) normalizeRoster() error {
	var err error
	if strings.TrimSpace(c.Roster.Path) == "" {
		c.Roster.Path = defaultRosterPath
	}
	if c.Roster.Path, err = expandPath(c.Roster.Path); err != nil {
		return fmt.Errorf("roster.path: %w", err)
	}
	return nil
}

func (c *Config) normalizePoller() {
	if c.Poller.IntervalSeconds <= 0 {
		c.Poller.IntervalSeconds = defaultPollIntervalSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
