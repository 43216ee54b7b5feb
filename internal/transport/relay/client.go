package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/livecanvas/internal/retry"
	"github.com/haasonsaas/livecanvas/internal/transport"
)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URL is the relay base URL, e.g. ws://localhost:8080.
	URL     string
	Room    string
	Name    string
	Retry   retry.Config
	Logger  *slog.Logger
	Metrics *Metrics
	Dialer  *websocket.Dialer
}

// Client is the presence channel seen from a participant. It implements
// transport.Channel and reconnects with backoff until its context ends.
type Client struct {
	endpoint string
	name     string
	retry    retry.Config
	dialer   *websocket.Dialer
	inbound  transport.InboundFunc
	logger   *slog.Logger
	metrics  *Metrics

	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	hookMu    sync.Mutex
	onConnect []func(ctx context.Context)
}

// NewClient builds a client. Call Run to connect.
func NewClient(cfg ClientConfig, inbound transport.InboundFunc) (*Client, error) {
	endpoint, err := roomEndpoint(cfg.URL, cfg.Room)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "presence"
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		name:     cfg.Name,
		retry:    cfg.Retry,
		dialer:   dialer,
		inbound:  inbound,
		logger:   logger.With("component", "relay-client", "room", cfg.Room),
		metrics:  cfg.Metrics,
	}, nil
}

func roomEndpoint(base, room string) (string, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return "", errors.New("relay: room is required")
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("relay: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay: unsupported url scheme %q", u.Scheme)
	}
	escaped := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms/" + room + "/ws"
	u.RawPath = escaped + "/rooms/" + url.PathEscape(room) + "/ws"
	return u.String(), nil
}

func (c *Client) Name() string                { return c.name }
func (c *Client) Kind() transport.ChannelKind { return transport.ChannelPresence }
func (c *Client) Connected() bool             { return c.connected.Load() }

// Endpoint returns the websocket URL the client dials.
func (c *Client) Endpoint() string { return c.endpoint }

// OnConnect registers a hook run after every successful (re)connect. Hooks
// run on their own goroutine so they may call Send.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	c.hookMu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.hookMu.Unlock()
}

// Run dials the relay, reads until the connection drops, and reconnects
// with backoff. It returns when ctx is done or a dial fails permanently.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.setConn(conn)
		c.logger.Info("relay connected", "endpoint", c.endpoint)

		stop := context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})
		c.runHooks(ctx)
		c.readLoop(conn)
		stop()

		c.setConn(nil)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("relay connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, c.retry, func(attempt int) error {
		if attempt > 1 {
			c.metrics.reconnect()
		}
		ws, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(fmt.Errorf("relay rejected connection: %s", resp.Status))
			}
			return err
		}
		conn = ws
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		c.logger.Debug("relay dial failed", "attempt", attempt, "retry_in", wait, "error", err)
	})
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(conn != nil)
}

func (c *Client) runHooks(ctx context.Context) {
	c.hookMu.Lock()
	hooks := append([]func(context.Context){}, c.onConnect...)
	c.hookMu.Unlock()
	if len(hooks) == 0 {
		return
	}
	go func() {
		for _, fn := range hooks {
			fn(ctx)
		}
	}()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		if messageType != websocket.TextMessage || c.inbound == nil {
			continue
		}
		c.inbound(c.name, data)
	}
}

// Send writes one envelope to the relay.
func (c *Client) Send(ctx context.Context, env *transport.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}
	raw, err := transport.Encode(env)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline) //nolint:errcheck
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// Close drops the current connection. Run reconnects unless its context
// is done.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
