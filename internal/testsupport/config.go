// Package testsupport provides shared helpers for package tests: temp-backed
// configs and stores.
package testsupport

import (
	"path/filepath"
	"testing"

	"shiftwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults credentials and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Chat.APIToken = "test-token"
	cfg.Chat.GroupID = "test-group"
	cfg.Chat.BotID = "test-bot"
	cfg.Chat.BotName = "ShiftwatchBot"
	cfg.Chat.PostingEnabled = false
	cfg.Calendar.ServiceURL = "http://127.0.0.1:0/calendar"
	cfg.LLM.APIKey = "test-key"
	cfg.Lock.Path = filepath.Join(base, "data", "poller.lock.json")
	cfg.Roster.Path = filepath.Join(base, "roster.json")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithPostingEnabled turns on chat posting for tests that assert send paths.
func WithPostingEnabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Chat.PostingEnabled = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
