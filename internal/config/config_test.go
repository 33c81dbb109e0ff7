package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[chat]
api_token = "tok"
group_id = "g1"
bot_id = "bot-1"

[calendar]
service_url = "http://localhost:8080/calendar"

[llm]
api_key = "sk-test"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Queue.MaxRetryAttempts != 3 {
		t.Errorf("max_retry_attempts = %d, want 3", cfg.Queue.MaxRetryAttempts)
	}
	if cfg.Queue.MessageTTLHours != 24 {
		t.Errorf("message_ttl_hours = %d, want 24", cfg.Queue.MessageTTLHours)
	}
	if cfg.Workflow.InteractionLimit != 2 {
		t.Errorf("interaction_limit = %d, want 2", cfg.Workflow.InteractionLimit)
	}
	if cfg.Lock.StaleMinutes != 30 {
		t.Errorf("stale_minutes = %d, want 30", cfg.Lock.StaleMinutes)
	}
	if cfg.LLM.ConfidenceThreshold != 50 {
		t.Errorf("confidence_threshold = %d, want 50", cfg.LLM.ConfidenceThreshold)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("logging.format = %q", cfg.Logging.Format)
	}
}

func TestLoadDerivesLockPathFromDataDir(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Lock.Path, filepath.Join(cfg.Paths.DataDir, "poller.lock.json"); got != want {
		t.Fatalf("lock path = %q, want %q", got, want)
	}
	if !strings.HasSuffix(cfg.DatabasePath(), "shiftwatch.db") {
		t.Fatalf("database path = %q", cfg.DatabasePath())
	}
	if !strings.HasSuffix(cfg.CursorPath(), "last_message_id.txt") {
		t.Fatalf("cursor path = %q", cfg.CursorPath())
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing chat token",
			body: `
[chat]
group_id = "g1"

[calendar]
service_url = "http://localhost:8080"

[llm]
api_key = "sk"
`,
			want: "chat.api_token",
		},
		{
			name: "missing calendar url",
			body: `
[chat]
api_token = "tok"
group_id = "g1"
bot_id = "b"

[llm]
api_key = "sk"
`,
			want: "calendar.service_url",
		},
		{
			name: "missing llm key",
			body: `
[chat]
api_token = "tok"
group_id = "g1"
bot_id = "b"

[calendar]
service_url = "http://localhost:8080"
`,
			want: "llm.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, _, _, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsBotlessPosting(t *testing.T) {
	path := writeConfig(t, `
[chat]
api_token = "tok"
group_id = "g1"
posting_enabled = true

[calendar]
service_url = "http://localhost:8080"

[llm]
api_key = "sk"
`)
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected error for posting without bot_id")
	}
}

func TestLoadEnvFallbacks(t *testing.T) {
	t.Setenv("SHIFTWATCH_CHAT_TOKEN", "env-tok")
	t.Setenv("SHIFTWATCH_LLM_API_KEY", "env-key")
	path := writeConfig(t, `
[chat]
group_id = "g1"
bot_id = "b"

[calendar]
service_url = "http://localhost:8080"
`)
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.APIToken != "env-tok" {
		t.Errorf("chat token = %q", cfg.Chat.APIToken)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("llm key = %q", cfg.LLM.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	for _, section := range []string{"[chat]", "[calendar]", "[llm]", "[queue]", "[workflow]", "[lock]"} {
		if !strings.Contains(string(data), section) {
			t.Errorf("sample missing %s", section)
		}
	}
}

func TestNormalizeLoggingFallsBackToConsole(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[logging]
format = "xml"
`)
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("format = %q, want console", cfg.Logging.Format)
	}
}
