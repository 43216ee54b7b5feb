package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/livecanvas/internal/intent"
	"github.com/haasonsaas/livecanvas/internal/render"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

func buildParseCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Show the tool the keyword fallback would build for some text",
		Example: `  livecanvas parse "start a 5 minute timer"
  livecanvas parse --json "poll about lunch options"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			in := intent.Parse(text)
			if !in.Matched() {
				return fmt.Errorf("no tool matches %q", text)
			}
			spec, err := in.Spec(string(in.Type)+"-"+uuid.NewString(), "cli", &toolspec.Clock{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(spec)
			}
			return render.Tool(out, *spec, render.Options{})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the wire form instead of text")
	return cmd
}
