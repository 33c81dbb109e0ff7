package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"gibberish", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestConsoleHandlerIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	WithComponent(logger, "poller").Info("cycle complete", Int("processed", 3))

	out := buf.String()
	if !strings.Contains(out, "[poller]") {
		t.Errorf("expected component marker in output, got %q", out)
	}
	if !strings.Contains(out, "processed=3") {
		t.Errorf("expected attribute in output, got %q", out)
	}
	if !strings.Contains(out, "cycle complete") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger.Warn("delivery failed", String("reason", "network timed out"))

	if !strings.Contains(buf.String(), `reason="network timed out"`) {
		t.Errorf("expected quoted value, got %q", buf.String())
	}
}

func TestJSONHandlerFieldNames(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, levelVar, false))

	logger.Info("queued", String(FieldMessageID, "m-1"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if record["msg"] != "queued" {
		t.Errorf("expected msg field, got %v", record)
	}
	if record["level"] != "info" {
		t.Errorf("expected lowercase level, got %v", record["level"])
	}
	if record[FieldMessageID] != "m-1" {
		t.Errorf("expected message_id attribute, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(nil, slog.LevelError) { //nolint:staticcheck
		t.Fatal("nop logger should not be enabled")
	}
}
