package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "livecanvas.yaml", `
room: standup
participant:
  name: alice
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Room = "standup"
	want.Participant.Name = "alice"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Chain.Debounce != 800*time.Millisecond || cfg.Remote.DedupeTTL != 30*time.Second {
		t.Fatalf("unexpected timing defaults %+v %+v", cfg.Chain, cfg.Remote)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, "livecanvas.yaml", `
chain:
  debounce: 250ms
  marker_clear: 1s
relay:
  presence_timeout: 1m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.Debounce != 250*time.Millisecond || cfg.Chain.MarkerClear != time.Second {
		t.Fatalf("chain = %+v", cfg.Chain)
	}
	if cfg.Relay.PresenceTimeout != time.Minute {
		t.Fatalf("presence timeout = %v", cfg.Relay.PresenceTimeout)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "livecanvas.yaml", `
relay:
  listen: ":9000"
  extra: true
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "extra") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "livecanvas.json5", `{
  // comments are allowed
  room: "design-review",
  participant: {name: "bob", color: "#ff8800"},
  peer: {enabled: true, max_frame_bytes: 4096,},
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room != "design-review" || cfg.Participant.Color != "#ff8800" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Peer.Enabled || cfg.Peer.MaxFrameBytes != 4096 {
		t.Fatalf("peer = %+v", cfg.Peer)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), `
room: base-room
logging:
  level: debug
  format: json
`)
	path := writeFile(t, filepath.Join(dir, "livecanvas.yaml"), `
$include: base.yaml
room: override
logging:
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room != "override" {
		t.Fatalf("room = %q", cfg.Room)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LIVECANVAS_TEST_KEY", "secret-value")
	path := writeConfig(t, "livecanvas.yaml", `
generation:
  endpoint: ${LIVECANVAS_TEST_ENDPOINT:-http://localhost:9999/generate-tools}
  api_key: ${LIVECANVAS_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.APIKey != "secret-value" {
		t.Fatalf("api key = %q", cfg.Generation.APIKey)
	}
	if cfg.Generation.Endpoint != "http://localhost:9999/generate-tools" {
		t.Fatalf("endpoint = %q", cfg.Generation.Endpoint)
	}
}

func TestExpandEnvFallback(t *testing.T) {
	env := map[string]string{"SET": "value", "EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	tests := []struct {
		in   string
		want string
	}{
		{"$SET", "value"},
		{"${SET:-x}", "value"},
		{"${EMPTY:-x}", "x"},
		{"${MISSING:-x}", "x"},
		{"${MISSING}", ""},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in, lookup); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "bad multiaddr",
			body:    "peer:\n  bootstrap: [\"not-a-multiaddr\"]\n",
			wantErr: "peer.bootstrap[0]",
		},
		{
			name:    "bad log level",
			body:    "logging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			body:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "negative debounce",
			body:    "chain:\n  debounce: -1s\n",
			wantErr: "chain.debounce",
		},
		{
			name:    "heartbeat slower than timeout",
			body:    "relay:\n  presence_timeout: 5s\n  heartbeat_every: 10s\n",
			wantErr: "heartbeat_every",
		},
		{
			name:    "relay scheme",
			body:    "relay:\n  url: ftp://example.com\n",
			wantErr: "relay.url",
		},
		{
			name:    "generator without key",
			body:    "generator:\n  enabled: true\n",
			wantErr: "generator.api_key",
		},
		{
			name:    "newer version",
			body:    "version: 2\n",
			wantErr: "newer livecanvas",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "livecanvas.yaml", tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRequireParticipant(t *testing.T) {
	cfg := Default()
	err := cfg.RequireParticipant()
	if err == nil || !strings.Contains(err.Error(), "room") || !strings.Contains(err.Error(), "participant.name") {
		t.Fatalf("expected both fields reported, got %v", err)
	}
	cfg.Room = "r"
	cfg.Participant.Name = "alice"
	if err := cfg.RequireParticipant(); err != nil {
		t.Fatalf("RequireParticipant: %v", err)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, key := range []string{"presence_timeout", "marker_clear", "dedupe_ttl", "max_frame_bytes"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("schema missing %q", key)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	return writeFile(t, filepath.Join(t.TempDir(), name), contents)
}

func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
