package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/livecanvas/internal/remote"
	"github.com/haasonsaas/livecanvas/internal/retry"
	"github.com/haasonsaas/livecanvas/internal/transport"
	"github.com/haasonsaas/livecanvas/internal/transport/relay"
)

func buildRemoteCmd() *cobra.Command {
	var (
		room     string
		relayURL string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Send a remote-control command to every participant in a room",
	}
	cmd.PersistentFlags().StringVar(&room, "room", "", "Target room (defaults to the config room)")
	cmd.PersistentFlags().StringVar(&relayURL, "relay", "", "Override relay.url")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up if the relay cannot be reached in time")

	send := func(cmd *cobra.Command, command remote.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if room != "" {
			cfg.Room = room
		}
		if relayURL != "" {
			cfg.Relay.URL = relayURL
		}
		if cfg.Room == "" {
			return fmt.Errorf("room is required")
		}
		logger := setupLogger(cfg)
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := sendRemote(ctx, cfg.Relay.URL, cfg.Room, command, time.Now()); err != nil {
			return err
		}
		logger.Info("remote command sent", "room", cfg.Room, "type", command.CommandType())
		return nil
	}

	var (
		toolType string
		topic    string
		seconds  int
	)
	createCmd := &cobra.Command{
		Use:   "create-tool",
		Short: "Ask every canvas to create a tool",
		Example: `  livecanvas remote create-tool --room standup --type timer --seconds 300
  livecanvas remote create-tool --room standup --type poll --topic "team offsite"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, remote.CreateTool{ToolType: toolType, Topic: topic, InitialSeconds: seconds})
		},
	}
	createCmd.Flags().StringVar(&toolType, "type", "", "Tool type, e.g. timer, poll, map")
	createCmd.Flags().StringVar(&topic, "topic", "", "Optional topic")
	createCmd.Flags().IntVar(&seconds, "seconds", 0, "Initial seconds for timers")
	_ = createCmd.MarkFlagRequired("type")

	var x, y float64
	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the most recent 3D tool (x and y in [0,1])",
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, remote.Rotate3D{X: x, Y: y})
		},
	}
	rotateCmd.Flags().Float64Var(&x, "x", 0.5, "Horizontal position")
	rotateCmd.Flags().Float64Var(&y, "y", 0.5, "Vertical position")

	uiCmd := &cobra.Command{
		Use:       "ui <zoom-in|zoom-out|clear-notices>",
		Short:     "Trigger a view action",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(remote.ActionZoomIn), string(remote.ActionZoomOut), string(remote.ActionClearNotices)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, remote.UIAction{Action: remote.Action(args[0])})
		},
	}

	cmd.AddCommand(createCmd, rotateCmd, uiCmd)
	return cmd
}

// sendRemote connects to the room as a transient sender, publishes one
// remote-command envelope and disconnects. The command is validated the
// way receivers will parse it before anything is sent.
func sendRemote(ctx context.Context, relayURL, room string, command remote.Command, at time.Time) error {
	raw, err := remote.Encode(command, at)
	if err != nil {
		return err
	}
	if _, err := remote.Parse(raw); err != nil {
		return err
	}
	env, err := transport.NewEnvelope(transport.KindRemoteCommand, fmt.Sprintf("remote-%d", at.UnixMilli()), json.RawMessage(raw))
	if err != nil {
		return err
	}
	env.Room = room

	client, err := relay.NewClient(relay.ClientConfig{
		URL:   relayURL,
		Room:  room,
		Name:  "remote",
		Retry: retry.Config{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Factor: 2},
	}, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sent := make(chan error, 1)
	client.OnConnect(func(ctx context.Context) {
		sent <- client.Send(ctx, env)
		cancel()
	})
	runErr := client.Run(ctx)
	select {
	case err := <-sent:
		return err
	default:
	}
	if runErr != nil {
		return fmt.Errorf("connect to relay: %w", runErr)
	}
	return fmt.Errorf("connect to relay: %w", context.Cause(ctx))
}
