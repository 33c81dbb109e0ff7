package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Chat contains configuration for the group chat provider.
type Chat struct {
	APIBaseURL           string   `toml:"api_base_url"`
	APIToken             string   `toml:"api_token"`
	GroupID              string   `toml:"group_id"`
	BotID                string   `toml:"bot_id"`
	BotName              string   `toml:"bot_name"`
	TimeoutSeconds       int      `toml:"timeout_seconds"`
	FetchLimit           int      `toml:"fetch_limit"`
	PostingEnabled       bool     `toml:"posting_enabled"`
	ImpersonationEnabled bool     `toml:"impersonation_enabled"`
	AdminUserIDs         []string `toml:"admin_user_ids"`
}

// Calendar contains configuration for the scheduling service.
type Calendar struct {
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// LLM contains shared model connection settings used by the classifiers
// and the extraction step.
type LLM struct {
	APIKey              string `toml:"api_key"`
	BaseURL             string `toml:"base_url"`
	Model               string `toml:"model"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	ConfidenceThreshold int    `toml:"confidence_threshold"`
}

// Queue contains message intake queue settings.
type Queue struct {
	MaxRetryAttempts int `toml:"max_retry_attempts"`
	MessageTTLHours  int `toml:"message_ttl_hours"`
}

// Workflow contains conversation workflow settings.
type Workflow struct {
	TTLHours         int `toml:"ttl_hours"`
	InteractionLimit int `toml:"interaction_limit"`
}

// Lock contains mutual-exclusion lock settings for the poller.
type Lock struct {
	Path         string `toml:"path"`
	StaleMinutes int    `toml:"stale_minutes"`
}

// Roster contains the member roster location.
type Roster struct {
	Path string `toml:"path"`
}

// Poller contains polling loop settings.
type Poller struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shiftwatch.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Chat: group chat provider credentials and posting toggles
//   - Calendar: scheduling service endpoint
//   - LLM: model connection settings and classifier threshold
//   - Queue: message intake retry ceiling and expiry
//   - Workflow: conversation expiry and the clarification interaction limit
//   - Lock: poller mutual-exclusion lock file and staleness window
//   - Roster: member roster file
//   - Poller: polling cadence for the daemon loop
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Chat     Chat     `toml:"chat"`
	Calendar Calendar `toml:"calendar"`
	LLM      LLM      `toml:"llm"`
	Queue    Queue    `toml:"queue"`
	Workflow Workflow `toml:"workflow"`
	Lock     Lock     `toml:"lock"`
	Roster   Roster   `toml:"roster"`
	Poller   Poller   `toml:"poller"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shiftwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second and third
// return values report the resolved path and whether a file was found there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shiftwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "shiftwatch.db")
}

// CursorPath returns the file recording the last ingested chat message ID.
func (c *Config) CursorPath() string {
	return filepath.Join(c.Paths.DataDir, "last_message_id.txt")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
