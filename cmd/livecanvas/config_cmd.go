package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/livecanvas/internal/config"
)

const redactedValue = "[REDACTED]"

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.JSONSchema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with defaults applied",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				redacted := *cfg
				if redacted.Generation.APIKey != "" {
					redacted.Generation.APIKey = redactedValue
				}
				if redacted.Generator.APIKey != "" {
					redacted.Generator.APIKey = redactedValue
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(&redacted); err != nil {
					return err
				}
				return enc.Close()
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := loadConfig(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "config ok")
				return err
			},
		},
	)
	return cmd
}
