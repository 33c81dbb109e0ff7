package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateChat(); err != nil {
		return err
	}
	if err := c.validateCalendar(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateChat() error {
	if strings.TrimSpace(c.Chat.APIToken) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/shiftwatch/config.toml"
		}
		return fmt.Errorf("chat.api_token is required. Set SHIFTWATCH_CHAT_TOKEN env var or edit %s (create with 'shiftwatch config init')", defaultPath)
	}
	if strings.TrimSpace(c.Chat.GroupID) == "" {
		return errors.New("chat.group_id must be set")
	}
	if c.Chat.PostingEnabled && strings.TrimSpace(c.Chat.BotID) == "" {
		return errors.New("chat.bot_id must be set when chat.posting_enabled is true")
	}
	return nil
}

func (c *Config) validateCalendar() error {
	if strings.TrimSpace(c.Calendar.ServiceURL) == "" {
		return errors.New("calendar.service_url must be set")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key is required (or set SHIFTWATCH_LLM_API_KEY)")
	}
	if c.LLM.ConfidenceThreshold < 0 || c.LLM.ConfidenceThreshold > 100 {
		return errors.New("llm.confidence_threshold must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int{
		"queue.max_retry_attempts": c.Queue.MaxRetryAttempts,
		"queue.message_ttl_hours":  c.Queue.MessageTTLHours,
	})
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.ttl_hours":         c.Workflow.TTLHours,
		"workflow.interaction_limit": c.Workflow.InteractionLimit,
	})
}

func (c *Config) validateLock() error {
	return ensurePositiveMap(map[string]int{
		"lock.stale_minutes":       c.Lock.StaleMinutes,
		"poller.interval_seconds":  c.Poller.IntervalSeconds,
		"chat.timeout_seconds":     c.Chat.TimeoutSeconds,
		"calendar.timeout_seconds": c.Calendar.TimeoutSeconds,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
