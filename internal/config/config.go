// Package config loads livecanvas configuration from YAML or JSON5 files.
package config

import (
	"fmt"
	"time"
)

// Config is the livecanvas configuration file.
type Config struct {
	Version     int               `yaml:"version"`
	Room        string            `yaml:"room"`
	Participant ParticipantConfig `yaml:"participant"`
	Relay       RelayConfig       `yaml:"relay"`
	Peer        PeerConfig        `yaml:"peer"`
	Generation  GenerationConfig  `yaml:"generation"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Chain       ChainConfig       `yaml:"chain"`
	Remote      RemoteConfig      `yaml:"remote"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ParticipantConfig struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// RelayConfig covers both sides of the relay: Listen for `serve`, URL for
// participants.
type RelayConfig struct {
	Listen          string        `yaml:"listen"`
	URL             string        `yaml:"url"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	HeartbeatEvery  time.Duration `yaml:"heartbeat_every"`
}

type PeerConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Listen        []string `yaml:"listen"`
	Bootstrap     []string `yaml:"bootstrap"`
	MaxFrameBytes int64    `yaml:"max_frame_bytes"`
}

// GenerationConfig is the participant-side AI generation client.
type GenerationConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GeneratorConfig is the server-side generate-tools endpoint.
type GeneratorConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChainConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	MarkerClear time.Duration `yaml:"marker_clear"`
}

type RemoteConfig struct {
	DedupeTTL  time.Duration `yaml:"dedupe_ttl"`
	DedupeSize int           `yaml:"dedupe_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Listen serves /metrics for a participant. The relay always serves it
	// on its own listener.
	Listen string `yaml:"listen"`
}

// Load reads, merges, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, used when no
// file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Relay.Listen == "" {
		cfg.Relay.Listen = ":8080"
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = "ws://localhost:8080"
	}
	if cfg.Relay.PresenceTimeout == 0 {
		cfg.Relay.PresenceTimeout = 30 * time.Second
	}
	if cfg.Relay.SweepInterval == 0 {
		cfg.Relay.SweepInterval = 5 * time.Second
	}
	if cfg.Relay.HeartbeatEvery == 0 {
		cfg.Relay.HeartbeatEvery = 10 * time.Second
	}
	if len(cfg.Peer.Listen) == 0 {
		cfg.Peer.Listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if cfg.Peer.MaxFrameBytes == 0 {
		cfg.Peer.MaxFrameBytes = 1 << 20
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Generator.Path == "" {
		cfg.Generator.Path = "/generate-tools"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o"
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 60 * time.Second
	}
	if cfg.Chain.Debounce == 0 {
		cfg.Chain.Debounce = 800 * time.Millisecond
	}
	if cfg.Chain.MarkerClear == 0 {
		cfg.Chain.MarkerClear = 500 * time.Millisecond
	}
	if cfg.Remote.DedupeTTL == 0 {
		cfg.Remote.DedupeTTL = 30 * time.Second
	}
	if cfg.Remote.DedupeSize == 0 {
		cfg.Remote.DedupeSize = 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
