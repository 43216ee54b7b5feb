package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/livecanvas/internal/cache"
	"github.com/haasonsaas/livecanvas/internal/canvas"
	"github.com/haasonsaas/livecanvas/internal/chain"
	"github.com/haasonsaas/livecanvas/internal/config"
	"github.com/haasonsaas/livecanvas/internal/generate"
	"github.com/haasonsaas/livecanvas/internal/presence"
	"github.com/haasonsaas/livecanvas/internal/render"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
	"github.com/haasonsaas/livecanvas/internal/toolsync"
	"github.com/haasonsaas/livecanvas/internal/transport/peer"
	"github.com/haasonsaas/livecanvas/internal/transport/relay"
)

func buildJoinCmd() *cobra.Command {
	var (
		room, name, relayURL, endpoint string
		withPeer                        bool
		bootstrap                       []string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and drive the canvas from stdin",
		Long: `Join a room as a participant. Every line typed on stdin is sent to the
canvas as a request ("start a 5 minute timer", "poll on lunch options").
Lines starting with / are commands:

  /vote <poll-id> <option>=<votes> ...   report poll results
  /event <tool-id> <event> <json>        emit any tool event
  /remove <tool-id>                      hide a tool locally
  /cancel                                drop the pending chain
  /who                                   list participants
  /quit                                  leave the room`,
		Example: `  livecanvas join --room standup --name alice
  livecanvas join --room standup --name bob --peer --bootstrap /ip4/10.0.0.5/tcp/4001/p2p/12D3KooW...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if room != "" {
				cfg.Room = room
			}
			if name != "" {
				cfg.Participant.Name = name
			}
			if relayURL != "" {
				cfg.Relay.URL = relayURL
			}
			if endpoint != "" {
				cfg.Generation.Endpoint = endpoint
			}
			if withPeer {
				cfg.Peer.Enabled = true
			}
			cfg.Peer.Bootstrap = append(cfg.Peer.Bootstrap, bootstrap...)
			if err := cfg.RequireParticipant(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runJoin(ctx, cfg, logger, cmd.InOrStdin(), os.Stdout)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room to join")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&relayURL, "relay", "", "Override relay.url")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Override generation.endpoint")
	cmd.Flags().BoolVar(&withPeer, "peer", false, "Also open a peer-to-peer data channel")
	cmd.Flags().StringSliceVar(&bootstrap, "bootstrap", nil, "Peer multiaddrs to dial")
	return cmd
}

// participant is everything one joined process runs.
type participant struct {
	self    presence.Participant
	syncer  *toolsync.Syncer
	relay   *relay.Client
	peer    *peer.Channel
	canvas  *canvas.Orchestrator
	logger  *slog.Logger
	cfg     *config.Config
	metrics *http.Server
}

func newParticipant(cfg *config.Config, logger *slog.Logger) (*participant, error) {
	self := presence.Participant{
		ID:    presence.NewParticipantID(cfg.Participant.Name, time.Now()),
		Name:  cfg.Participant.Name,
		Color: cfg.Participant.Color,
	}
	syncer := toolsync.New(toolsync.Options{
		Self:    self.ID,
		Room:    cfg.Room,
		Seen:    cache.NewSeen(cache.Options{TTL: cfg.Remote.DedupeTTL, MaxSize: cfg.Remote.DedupeSize}),
		Logger:  logger,
		Metrics: toolsync.NewMetrics(),
	})

	relayClient, err := relay.NewClient(relay.ClientConfig{
		URL:     cfg.Relay.URL,
		Room:    cfg.Room,
		Logger:  logger,
		Metrics: relay.NewMetrics(),
	}, syncer.Ingest)
	if err != nil {
		return nil, err
	}
	syncer.AddChannel(relayClient)
	relayClient.OnConnect(func(ctx context.Context) {
		syncer.TrackPresence(ctx, self)
		syncer.FlushPending(ctx)
	})

	p := &participant{self: self, syncer: syncer, relay: relayClient, logger: logger, cfg: cfg}
	if cfg.Peer.Enabled {
		ch, err := peer.New(peer.Config{
			ListenAddrs:   cfg.Peer.Listen,
			MaxFrameBytes: cfg.Peer.MaxFrameBytes,
			Logger:        logger,
		}, syncer.Ingest)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("start peer channel: %w", err)
		}
		syncer.AddChannel(ch)
		p.peer = ch
	}

	var gen canvas.Generator
	if cfg.Generation.Endpoint != "" {
		client, err := generate.NewClient(generate.ClientConfig{
			Endpoint: cfg.Generation.Endpoint,
			APIKey:   cfg.Generation.APIKey,
			Timeout:  cfg.Generation.Timeout,
			Logger:   logger,
			Metrics:  generate.NewMetrics(),
		})
		if err != nil {
			p.close()
			return nil, err
		}
		gen = client
	}
	orch, err := canvas.New(canvas.Config{
		Syncer:           syncer,
		Generator:        gen,
		GenerateTimeout:  cfg.Generation.Timeout,
		ChainDebounce:    cfg.Chain.Debounce,
		ChainMarkerClear: cfg.Chain.MarkerClear,
		Logger:           logger,
		Metrics:          canvas.NewMetrics(),
	})
	if err != nil {
		p.close()
		return nil, err
	}
	p.canvas = orch

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		p.metrics = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return p, nil
}

func (p *participant) close() {
	if p.canvas != nil {
		p.canvas.Close()
	}
	if p.peer != nil {
		_ = p.peer.Close()
	}
	_ = p.relay.Close()
}

// run keeps the participant connected until ctx ends: relay reconnects,
// presence heartbeats, peer dials and the optional metrics listener.
func (p *participant) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.relay.Run(gctx)
	})
	g.Go(func() error {
		return watchConfig(gctx, p.logger)
	})
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.Relay.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if p.relay.Connected() {
					p.syncer.TrackPresence(gctx, p.self)
				}
			}
		}
	})
	if p.peer != nil {
		for _, addr := range p.cfg.Peer.Bootstrap {
			g.Go(func() error {
				if err := p.peer.Connect(gctx, addr); err != nil {
					p.logger.Warn("peer dial failed", "addr", addr, "error", err)
					return nil
				}
				p.syncer.FlushPending(gctx)
				return nil
			})
		}
	}
	if p.metrics != nil {
		g.Go(func() error {
			if err := p.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return p.metrics.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func runJoin(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out *os.File) error {
	p, err := newParticipant(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.peer != nil {
		fmt.Fprintf(out, "peer addresses:\n  %s\n", strings.Join(p.peer.Addrs(), "\n  "))
	}

	opts := render.ForFile(out)
	updates, unsubscribe := p.canvas.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if u.Kind == canvas.UpdateUI || u.Kind == canvas.UpdateChain {
					continue
				}
				if err := render.View(out, p.canvas.View(), opts); err != nil {
					logger.Debug("render view", "error", err)
				}
			}
		}
	}()

	go func() {
		defer cancel()
		console := &console{canvas: p.canvas, syncer: p.syncer, out: out}
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			if quit := console.handle(ctx, scanner.Text()); quit {
				return
			}
		}
	}()

	logger.Info("joined room", "room", cfg.Room, "participant", p.self.ID)
	return p.run(ctx)
}

// console interprets one stdin line.
type console struct {
	canvas *canvas.Orchestrator
	syncer *toolsync.Syncer
	out    io.Writer
}

func (c *console) handle(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.canvas.SubmitText(ctx, line); err != nil {
			c.printf("error: %v", err)
		}
		return false
	}

	fields := strings.Fields(line)
	var err error
	switch fields[0] {
	case "/quit":
		return true
	case "/cancel":
		c.canvas.CancelPendingChain()
	case "/who":
		for _, who := range c.syncer.Roster().List() {
			c.printf("  %s (%s)", who.Name, who.ID)
		}
	case "/remove":
		if len(fields) != 2 {
			err = errors.New("usage: /remove <tool-id>")
			break
		}
		err = c.canvas.RemoveTool(fields[1])
	case "/vote":
		err = c.vote(fields[1:])
	case "/event":
		if len(fields) < 3 {
			err = errors.New("usage: /event <tool-id> <event> [json]")
			break
		}
		payload := json.RawMessage(`{}`)
		if rest := strings.TrimSpace(strings.Join(fields[3:], " ")); rest != "" {
			payload = json.RawMessage(rest)
		}
		err = c.emit(fields[1], fields[2], payload)
	default:
		err = fmt.Errorf("unknown command %s", fields[0])
	}
	if err != nil {
		c.printf("error: %v", err)
	}
	return false
}

// vote reports poll results as option=votes pairs.
func (c *console) vote(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /vote <poll-id> <option>=<votes> ...")
	}
	payload := chain.VotePayload{}
	for _, pair := range args[1:] {
		option, count, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("vote %q is not option=votes", pair)
		}
		votes, err := strconv.Atoi(count)
		if err != nil || votes < 0 {
			return fmt.Errorf("vote count %q is not a non-negative number", count)
		}
		payload.Results = append(payload.Results, chain.VoteResult{Option: option, Votes: votes})
	}
	if entry, ok := c.syncer.Tools().Get(args[0]); ok {
		if poll, ok := entry.Spec.Props.(toolspec.PollProps); ok {
			payload.Question = poll.Question
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.emit(args[0], "vote", raw)
}

func (c *console) emit(toolID, event string, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return errors.New("event payload is not valid JSON")
	}
	fired, err := c.canvas.HandleToolEvent(toolID, event, payload)
	if err != nil {
		return err
	}
	if !fired {
		c.printf("no chain rule for %s", event)
	}
	return nil
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}
