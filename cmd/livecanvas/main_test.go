package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/livecanvas/internal/config"
	"github.com/haasonsaas/livecanvas/internal/presence"
	"github.com/haasonsaas/livecanvas/internal/remote"
	"github.com/haasonsaas/livecanvas/internal/toolsync"
	"github.com/haasonsaas/livecanvas/internal/transport/relay"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "join", "remote", "parse", "config"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel = "", ""
	t.Setenv("LIVECANVAS_CONFIG", "")
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := execute(t, "parse", "--json", "start", "a", "2", "minute", "timer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var wire struct {
		ID         string         `json:"id"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal([]byte(out), &wire); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if wire.Type != "timer" || !strings.HasPrefix(wire.ID, "timer-") {
		t.Fatalf("unexpected tool %+v", wire)
	}
	if wire.Properties["initialSeconds"] != float64(120) {
		t.Fatalf("initialSeconds = %v", wire.Properties["initialSeconds"])
	}

	if _, err := execute(t, "parse", "hello", "there"); err == nil {
		t.Fatal("expected an error for text without a tool")
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("config schema: %v", err)
	}
	if !json.Valid([]byte(out)) || !strings.Contains(out, "presence_timeout") {
		t.Fatalf("unexpected schema output: %s", out)
	}
}

func TestConfigShowRedactsKeys(t *testing.T) {
	t.Setenv("LIVECANVAS_TEST_SECRET", "sk-should-not-print")
	path := t.TempDir() + "/livecanvas.yaml"
	writeTestConfig(t, path, "generator:\n  api_key: ${LIVECANVAS_TEST_SECRET}\n")

	configPath, logLevel = "", ""
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "show", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), "sk-should-not-print") || !strings.Contains(out.String(), redactedValue) {
		t.Fatalf("key not redacted:\n%s", out.String())
	}
}

func TestServeMuxRoutes(t *testing.T) {
	cfg := config.Default()
	server := relay.NewServer(relay.ServerConfig{})
	mux, err := newServeMux(cfg, server, discardLogger())
	if err != nil {
		t.Fatalf("newServeMux: %v", err)
	}
	ts := httptest.NewServer(mux)
	defer ts.Close()

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/rooms/standup/presence", "", http.StatusOK},
		{http.MethodPost, "/generate-tools", `{"message":"","gestureEvent":{"type":"open-palm"}}`, http.StatusOK},
		{http.MethodPost, "/generate-tools", `{"message":"make a poll"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestSendRemoteReachesParticipants(t *testing.T) {
	server := relay.NewServer(relay.ServerConfig{})
	mux := http.NewServeMux()
	server.Mount(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	syncer := toolsync.New(toolsync.Options{Self: "alice-1", Room: "standup", Logger: discardLogger()})
	client, err := relay.NewClient(relay.ClientConfig{URL: ts.URL, Room: "standup", Logger: discardLogger()}, syncer.Ingest)
	if err != nil {
		t.Fatal(err)
	}
	syncer.AddChannel(client)
	client.OnConnect(func(ctx context.Context) {
		syncer.TrackPresence(ctx, presence.Participant{ID: "alice-1", Name: "alice"})
	})

	received := make(chan remote.CreateTool, 1)
	unsub := remote.Handle(syncer.Commands(), func(cmd remote.CreateTool, _ remote.Message) {
		received <- cmd
	})
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(server.Participants("standup")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("participant never joined")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sendCancel()
	want := remote.CreateTool{ToolType: "timer", InitialSeconds: 60}
	if err := sendRemote(sendCtx, ts.URL, "standup", want, time.Now()); err != nil {
		t.Fatalf("sendRemote: %v", err)
	}

	select {
	case got := <-received:
		if got != want {
			t.Fatalf("received %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestSendRemoteRejectsInvalidCommand(t *testing.T) {
	err := sendRemote(context.Background(), "ws://127.0.0.1:1", "standup", remote.UIAction{Action: "spin"}, time.Now())
	if err == nil || !strings.Contains(err.Error(), "unknown ui action") {
		t.Fatalf("expected validation error before dialing, got %v", err)
	}
}

func TestConsoleVote(t *testing.T) {
	var out bytes.Buffer
	c := &console{out: &out}
	if err := c.vote([]string{"poll-1"}); err == nil {
		t.Fatal("expected usage error")
	}
	if err := c.vote([]string{"poll-1", "Pizza"}); err == nil || !strings.Contains(err.Error(), "option=votes") {
		t.Fatalf("expected pair error, got %v", err)
	}
	if err := c.vote([]string{"poll-1", "Pizza=-1"}); err == nil {
		t.Fatal("expected negative count error")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("LIVECANVAS_CONFIG", "/etc/livecanvas.yaml")
	configPath = ""
	if got := resolveConfigPath(); got != "/etc/livecanvas.yaml" {
		t.Fatalf("env path = %q", got)
	}
	configPath = "local.yaml"
	defer func() { configPath = "" }()
	if got := resolveConfigPath(); got != "local.yaml" {
		t.Fatalf("flag path = %q", got)
	}
}

func TestWatchConfigWithoutFileIsNoop(t *testing.T) {
	t.Setenv("LIVECANVAS_CONFIG", "")
	configPath = ""
	if err := watchConfig(context.Background(), discardLogger()); err != nil {
		t.Fatalf("watchConfig: %v", err)
	}
}

func TestNewParticipantPeerFailureReleasesRelay(t *testing.T) {
	cfg := config.Default()
	cfg.Room = "standup"
	cfg.Participant.Name = "alice"
	cfg.Peer.Enabled = true
	cfg.Peer.Listen = []string{"/ip4/0.0.0.0/tcp/notaport"}

	p, err := newParticipant(cfg, discardLogger())
	if err == nil {
		p.close()
		t.Fatal("expected peer start failure")
	}
	if p != nil {
		t.Fatal("no participant should be returned on failure")
	}
	if !strings.Contains(err.Error(), "start peer channel") {
		t.Fatalf("unexpected error %v", err)
	}
}
