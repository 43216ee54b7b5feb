// Package main provides the livecanvas CLI.
//
// A room is served by one relay:
//
//	livecanvas serve --config livecanvas.yaml
//
// Participants join it and type requests on stdin:
//
//	livecanvas join --room standup --name alice
//
// A companion control surface can drive a room without joining it:
//
//	livecanvas remote create-tool --room standup --type timer --seconds 300
//
// # Environment Variables
//
//   - LIVECANVAS_CONFIG: path to the configuration file
//   - OPENAI_API_KEY: API key for the generate-tools endpoint when the
//     config file does not set generator.api_key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/livecanvas/internal/config"
	"github.com/haasonsaas/livecanvas/internal/observability"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	logLevel   string

	// logLevelVar is shared by every handler so config reloads take effect
	// without rebuilding loggers.
	logLevelVar = new(slog.LevelVar)
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "livecanvas",
		Short: "Shared, AI-assisted meeting canvas",
		Long: `livecanvas turns what people say in a meeting into interactive tools
(polls, timers, maps, charts...) shared live with everyone in the room.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON5 config file (or set LIVECANVAS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildJoinCmd(),
		buildRemoteCmd(),
		buildParseCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath returns --config, else LIVECANVAS_CONFIG, else "".
func resolveConfigPath() string {
	if path := strings.TrimSpace(configPath); path != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("LIVECANVAS_CONFIG"))
}

// loadConfig reads the config file named by --config or LIVECANVAS_CONFIG,
// or returns defaults when neither is set.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger installs the process logger described by cfg.
func setupLogger(cfg *config.Config) *slog.Logger {
	logLevelVar.Set(observability.LogLevelFromString(cfg.Logging.Level))
	logger := observability.NewLogger(observability.LogConfig{
		Leveler: logLevelVar,
		Format:  cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	return logger
}

// watchConfig applies reloadable settings until ctx ends. Only the log
// level is reloadable; everything else needs a restart. It is a no-op
// without a config file.
func watchConfig(ctx context.Context, logger *slog.Logger) error {
	path := resolveConfigPath()
	if path == "" {
		return nil
	}
	return config.Watch(ctx, path, config.WatchOptions{
		Logger: logger,
		OnReload: func(cfg *config.Config) {
			if logLevel != "" {
				return
			}
			logLevelVar.Set(observability.LogLevelFromString(cfg.Logging.Level))
		},
	})
}
