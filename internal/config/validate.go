package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
)

// Validate checks values that defaults cannot repair. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"relay.presence_timeout", c.Relay.PresenceTimeout},
		{"relay.sweep_interval", c.Relay.SweepInterval},
		{"relay.heartbeat_every", c.Relay.HeartbeatEvery},
		{"generation.timeout", c.Generation.Timeout},
		{"generator.timeout", c.Generator.Timeout},
		{"chain.debounce", c.Chain.Debounce},
		{"chain.marker_clear", c.Chain.MarkerClear},
		{"remote.dedupe_ttl", c.Remote.DedupeTTL},
	}
	for _, d := range durations {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if c.Relay.HeartbeatEvery >= c.Relay.PresenceTimeout {
		errs = append(errs, errors.New("relay.heartbeat_every must be shorter than relay.presence_timeout"))
	}

	if u, err := url.Parse(c.Relay.URL); err != nil {
		errs = append(errs, fmt.Errorf("relay.url: %w", err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("relay.url: unsupported scheme %q", u.Scheme))
		}
	}
	if c.Generation.Endpoint != "" {
		if u, err := url.Parse(c.Generation.Endpoint); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("generation.endpoint must be an absolute URL"))
		}
	}
	if !strings.HasPrefix(c.Generator.Path, "/") {
		errs = append(errs, errors.New("generator.path must start with /"))
	}
	if c.Generator.Enabled && strings.TrimSpace(c.Generator.APIKey) == "" {
		errs = append(errs, errors.New("generator.api_key is required when the generator is enabled"))
	}

	for i, addr := range c.Peer.Listen {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("peer.listen[%d]: %w", i, err))
		}
	}
	for i, addr := range c.Peer.Bootstrap {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("peer.bootstrap[%d]: %w", i, err))
		}
	}
	if c.Peer.MaxFrameBytes < 0 {
		errs = append(errs, errors.New("peer.max_frame_bytes must not be negative"))
	}
	if c.Remote.DedupeSize < 0 {
		errs = append(errs, errors.New("remote.dedupe_size must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// RequireParticipant checks the fields a joining participant needs.
func (c *Config) RequireParticipant() error {
	var errs []error
	if strings.TrimSpace(c.Room) == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if strings.TrimSpace(c.Participant.Name) == "" {
		errs = append(errs, errors.New("participant.name is required"))
	}
	return errors.Join(errs...)
}
