package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := LogLevelFromString(tt.in); got != tt.want {
				t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	NewLogger(LogConfig{Format: "json", Output: &jsonBuf}).Info("hello", "room", "standup")
	NewLogger(LogConfig{Format: "text", Output: &textBuf}).Info("hello", "room", "standup")

	var record map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &record); err != nil {
		t.Fatalf("json output is not JSON: %v (%s)", err, jsonBuf.String())
	}
	if record["msg"] != "hello" || record["room"] != "standup" {
		t.Fatalf("unexpected record %v", record)
	}
	if !strings.Contains(textBuf.String(), "room=standup") {
		t.Fatalf("unexpected text output %q", textBuf.String())
	}
}

func TestNewLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("level filter not applied: %q", buf.String())
	}
}

func TestLevelerChangesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := NewLogger(LogConfig{Level: "debug", Leveler: level, Output: &buf})
	logger.Info("before")
	level.Set(slog.LevelInfo)
	logger.Info("after")
	if strings.Contains(buf.String(), "before") || !strings.Contains(buf.String(), "after") {
		t.Fatalf("leveler not honoured: %q", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf}).With("api_key", "sk-live-abcdefghijklmnopqrstuvwxyz")
	logger.Warn("calling with Bearer abcdefghijklmnopqrstu",
		"error", errors.New("rejected key sk-abcdefghijklmnopqrstuvwxyz123456"),
		"endpoint", "https://example.com",
		slog.Group("req", "authorization", "Bearer xyz"),
	)

	out := buf.String()
	for _, secret := range []string{"sk-live-abcdefghij", "abcdefghijklmnopqrstu", "sk-abcdefghij", "Bearer xyz"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, "https://example.com") {
		t.Errorf("non-secret values must be kept: %s", out)
	}
}

func TestCustomRedactPattern(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`room-secret-\d+`}}).Info("joined room-secret-42")
	if strings.Contains(buf.String(), "room-secret-42") {
		t.Fatalf("custom pattern not applied: %s", buf.String())
	}
}
