// Package peer is the peer-to-peer data channel. Envelopes are broadcast to
// every connected peer. Each peer gets one long-lived outbound stream
// carrying varint length-prefixed frames, so envelopes sent in sequence
// arrive in that order.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/haasonsaas/livecanvas/internal/transport"
)

// ProtocolID is the stream protocol for canvas envelopes.
const ProtocolID protocol.ID = "/livecanvas/data/1.0.0"

const defaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned by Send for envelopes over MaxFrameBytes.
var ErrFrameTooLarge = errors.New("peer: frame exceeds max frame size")

// Config configures the libp2p host.
type Config struct {
	Name          string
	ListenAddrs   []string
	MaxFrameBytes int64
	Logger        *slog.Logger
}

// Channel implements transport.Channel over libp2p streams.
type Channel struct {
	host     host.Host
	name     string
	maxFrame int64
	inbound  transport.InboundFunc
	logger   *slog.Logger

	mu  sync.Mutex
	out map[libp2ppeer.ID]*outbound
}

// outbound is the write side of one peer's stream. mu serializes frames.
type outbound struct {
	mu     sync.Mutex
	stream network.Stream
	w      msgio.WriteCloser
}

// New starts a libp2p host and registers the stream handler. Frames read
// from peers are passed to inbound.
func New(cfg Config, inbound transport.InboundFunc) (*Channel, error) {
	if cfg.Name == "" {
		cfg.Name = "peer"
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	c := &Channel{
		host:     h,
		name:     cfg.Name,
		maxFrame: cfg.MaxFrameBytes,
		inbound:  inbound,
		logger:   logger.With("component", "peer", "peer_id", h.ID().String()),
		out:      make(map[libp2ppeer.ID]*outbound),
	}
	h.SetStreamHandler(ProtocolID, c.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		// Notifications arrive on swarm goroutines; never block them on a
		// frame write.
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			go c.dropOutbound(conn.RemotePeer())
		},
	})
	c.logger.Info("peer channel listening", "addrs", c.Addrs())
	return c, nil
}

func (c *Channel) Name() string                { return c.name }
func (c *Channel) Kind() transport.ChannelKind { return transport.ChannelPeer }

// Connected reports whether at least one peer is connected.
func (c *Channel) Connected() bool {
	return len(c.host.Network().Peers()) > 0
}

// ID returns the local peer id.
func (c *Channel) ID() string {
	return c.host.ID().String()
}

// Addrs returns dialable multiaddrs including the /p2p component.
func (c *Channel) Addrs() []string {
	addrs := c.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, c.host.ID()))
	}
	return out
}

// Connect dials a peer by its full multiaddr.
func (c *Channel) Connect(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse peer address %q: %w", addr, err)
	}
	info, err := libp2ppeer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("peer address %q: %w", addr, err)
	}
	if err := c.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	c.logger.Info("peer connected", "remote", info.ID.String())
	return nil
}

// Send writes env to every connected peer. It fails with
// transport.ErrNotConnected when there are no peers, and with the joined
// per-peer errors when any stream fails.
func (c *Channel) Send(ctx context.Context, env *transport.Envelope) error {
	raw, err := transport.Encode(env)
	if err != nil {
		return err
	}
	if int64(len(raw)) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(raw))
	}
	peers := c.host.Network().Peers()
	if len(peers) == 0 {
		return transport.ErrNotConnected
	}
	var errs []error
	for _, p := range peers {
		if err := c.sendTo(ctx, p, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// sendTo writes one frame on the peer's stream. A broken stream is reset and
// the frame retried once on a fresh one.
func (c *Channel) sendTo(ctx context.Context, p libp2ppeer.ID, raw []byte) error {
	o := c.outboundFor(p)
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		reused := o.stream != nil
		if !reused {
			stream, err := c.host.NewStream(ctx, p, ProtocolID)
			if err != nil {
				return err
			}
			o.stream = stream
			o.w = msgio.NewVarintWriter(stream)
		}
		var deadline time.Time
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		_ = o.stream.SetWriteDeadline(deadline)
		if err = o.w.WriteMsg(raw); err == nil {
			return nil
		}
		o.resetLocked()
		if !reused || ctx.Err() != nil {
			break
		}
		c.logger.Debug("peer stream broken, reopening", "remote", p.String(), "error", err)
	}
	return err
}

func (c *Channel) outboundFor(p libp2ppeer.ID) *outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.out[p]
	if !ok {
		o = &outbound{}
		c.out[p] = o
	}
	return o
}

func (c *Channel) dropOutbound(p libp2ppeer.ID) {
	c.mu.Lock()
	o, ok := c.out[p]
	delete(c.out, p)
	c.mu.Unlock()
	if !ok {
		return
	}
	o.mu.Lock()
	o.resetLocked()
	o.mu.Unlock()
}

// Must be called with o.mu held.
func (o *outbound) resetLocked() {
	if o.stream != nil {
		_ = o.stream.Reset()
	}
	o.stream = nil
	o.w = nil
}

func (c *Channel) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer().String()
	r := msgio.NewVarintReaderSize(s, int(c.maxFrame))
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, network.ErrReset):
			case errors.Is(err, msgio.ErrMsgTooLarge):
				c.logger.Warn("peer frame too large, closing stream", "remote", remote, "max_bytes", c.maxFrame)
				_ = s.Reset()
			default:
				c.logger.Warn("peer stream read failed", "remote", remote, "error", err)
			}
			return
		}
		data := append([]byte(nil), msg...)
		r.ReleaseMsg(msg)
		if c.inbound != nil {
			c.inbound(c.name, data)
		}
	}
}

// Close resets outbound streams and shuts down the libp2p host.
func (c *Channel) Close() error {
	c.mu.Lock()
	peers := make([]libp2ppeer.ID, 0, len(c.out))
	for p := range c.out {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	for _, p := range peers {
		c.dropOutbound(p)
	}
	return c.host.Close()
}
