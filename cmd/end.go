package cmd

import (
	"context"

	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/room"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var endCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session you host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return endSession(args[0])
	},
}

func endSession(sessionID string) error {
	cfg, err := LoadConfig(config.Options{Domain: flagDomain})
	if err != nil {
		return err
	}
	_, client, err := requireLogin(cfg)
	if err != nil {
		return err
	}

	if err := client.EndSession(context.Background(), sessionID); err != nil {
		return room.NewError("end session", err)
	}
	ui.PrintSuccess("Session ended")
	return nil
}

func init() {
	rootCmd.AddCommand(endCmd)
	endCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
}
