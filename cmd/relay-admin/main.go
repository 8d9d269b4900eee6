// ABOUTME: Admin CLI for inspecting and clearing claude-relay sessions
// ABOUTME: Talks to the configured session store directly; also previews markdown rendering

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/claude-relay/internal/config"
)

const banner = `
      _                 _                    _
  ___| | __ _ _   _  __| | ___   _ __ ___ | | __ _ _   _
 / __| |/ _' | | | |/ _' |/ _ \ | '__/ _ \| |/ _' | | | |
| (__| | (_| | |_| | (_| |  __/ | | |  __/| | (_| | |_| |
 \___|_|\__,_|\__,_|\__,_|\___| |_|  \___||_|\__,_|\__, |
                                                   |___/
`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay-admin",
		Short:         "Administer claude-relay sessions",
		Long:          "Inspect and clear per-user Claude sessions in the relay's session store,\nand preview how markdown replies are rendered for chat.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			color.New(color.FgCyan).Fprint(cmd.OutOrStdout(), banner)
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("config", config.DefaultPath(), "path to config file (.yaml or .toml)")

	root.AddCommand(newSessionsCmd())
	root.AddCommand(newRenderCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}
