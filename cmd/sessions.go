package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipcast/clipcast-cli/internal/api"
	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var flagLimit int

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List live sessions you can join",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions()
	},
}

func listSessions() error {
	cfg, err := LoadConfig(config.Options{Domain: flagDomain})
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Fetching live sessions...")
	defer stopSpinner()

	client := api.NewClient(cfg.APIBaseURL, "")
	sessions, err := client.ListActiveSessions(context.Background(), flagLimit)
	if err != nil {
		return err
	}
	stopSpinner()

	ui.RenderSessionTable(sessions)
	return nil
}

var participantsCmd = &cobra.Command{
	Use:   "participants <session-id>",
	Short: "Show who is in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listParticipants(args[0])
	},
}

func listParticipants(sessionID string) error {
	cfg, err := LoadConfig(config.Options{Domain: flagDomain})
	if err != nil {
		return err
	}
	_, client, err := requireLogin(cfg)
	if err != nil {
		return err
	}

	participants, err := client.ListParticipants(context.Background(), sessionID)
	if err != nil {
		return err
	}
	ui.RenderParticipantTable(participants)

	// Guest requests are only visible to the host; anyone else gets an
	// authorization error and just sees the participant list.
	requests, err := client.ListGuestRequests(context.Background(), sessionID)
	if err != nil {
		slog.Debug("guest requests unavailable", "error", err)
		return nil
	}
	if len(requests) > 0 {
		fmt.Println(ui.BoldStyle.Render("Pending guest requests"))
		ui.RenderGuestRequestTable(requests)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(participantsCmd)

	sessionsCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	sessionsCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum sessions to list")
	participantsCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
}
