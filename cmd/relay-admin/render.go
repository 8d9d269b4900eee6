// ABOUTME: relay-admin "render" subcommand previewing chat markup for a markdown file
// ABOUTME: Reads a file or stdin and prints the transcoded, length-capped output

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/claude-relay/internal/transcode"
)

func newRenderCmd() *cobra.Command {
	var (
		maxLength int
		plain     bool
	)
	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render markdown the way the relay would send it",
		Long:  "Render markdown from a file (or stdin when no file or \"-\" is given) into\nthe restricted HTML sent to chat clients.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("reading markdown: %w", err)
			}

			out, truncated := transcode.Transcode(string(data), maxLength)
			if plain {
				out = transcode.StripTags(out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if truncated {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "(truncated to %d characters)\n", maxLength)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxLength, "max-length", transcode.MaxLength, "length cap in characters (0 disables)")
	cmd.Flags().BoolVar(&plain, "plain", false, "strip tags and print the plain-text fallback")
	return cmd
}
