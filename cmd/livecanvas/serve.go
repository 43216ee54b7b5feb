package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/livecanvas/internal/config"
	"github.com/haasonsaas/livecanvas/internal/generate"
	"github.com/haasonsaas/livecanvas/internal/transport/relay"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room relay and the generate-tools endpoint",
		Long: `Run the relay every participant connects to. The same listener serves:

  /rooms/{room}/ws        presence channel (websocket)
  /rooms/{room}/presence  current roster as JSON
  <generator.path>        AI tool generation (default /generate-tools)
  /metrics                Prometheus metrics
  /healthz                liveness`,
		Example: `  livecanvas serve
  livecanvas serve --listen :9000 --config livecanvas.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if cfg.Generator.APIKey == "" {
				cfg.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
			}
			logger := setupLogger(cfg)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override relay.listen")
	return cmd
}

// newServeMux mounts every HTTP route the relay process serves.
func newServeMux(cfg *config.Config, server *relay.Server, logger *slog.Logger) (*http.ServeMux, error) {
	var completer generate.Completer
	if strings.TrimSpace(cfg.Generator.APIKey) != "" {
		c, err := generate.NewOpenAICompleter(generate.OpenAIConfig{
			APIKey:  cfg.Generator.APIKey,
			BaseURL: cfg.Generator.BaseURL,
			Model:   cfg.Generator.Model,
		})
		if err != nil {
			return nil, err
		}
		completer = c
	} else {
		logger.Warn("no generator api key configured, only gestures will be answered", "path", cfg.Generator.Path)
	}

	mux := http.NewServeMux()
	server.Mount(mux)
	mux.Handle(cfg.Generator.Path, generate.NewHandler(generate.HandlerConfig{
		Completer: completer,
		Logger:    logger,
		Metrics:   generate.NewMetrics(),
		Timeout:   cfg.Generator.Timeout,
	}))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux, nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	server := relay.NewServer(relay.ServerConfig{
		PresenceTimeout: cfg.Relay.PresenceTimeout,
		SweepInterval:   cfg.Relay.SweepInterval,
		Logger:          logger,
		Metrics:         relay.NewMetrics(),
	})
	mux, err := newServeMux(cfg, server, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return watchConfig(gctx, logger)
	})
	g.Go(func() error {
		logger.Info("livecanvas relay listening", "addr", cfg.Relay.Listen, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	logger.Info("livecanvas relay stopped")
	return err
}
