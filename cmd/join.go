package cmd

import (
	"context"

	"github.com/clipcast/clipcast-cli/internal/room"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <session-id>",
	Aliases: []string{"j"},
	Short:   "Join a live session as a viewer",
	Long: `Join an active live session. You start as a viewer; press g inside
the room to ask the host for a guest spot.

Examples:
  clipcast join 4f7c9b1e-...
  clipcast join 4f7c9b1e-... --video camera.ivf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinSession(args[0])
	},
}

func joinSession(sessionID string) error {
	cfg, err := LoadConfig(connectionOptions())
	if err != nil {
		return err
	}
	creds, client, err := requireLogin(cfg)
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Joining session...")
	defer stopSpinner()

	details, err := client.GetSession(context.Background(), sessionID)
	if err != nil {
		return room.NewError("look up session", err)
	}
	joined, err := client.JoinSession(context.Background(), sessionID)
	if err != nil {
		return room.NewError("join session", err)
	}
	stopSpinner()

	return runLive(cfg, creds, liveSession{
		SessionID:   joined.SessionID,
		Title:       details.Title,
		SessionType: details.SessionType,
		HostID:      details.HostID,
		RoomToken:   joined.AccessToken,
		SelfRole:    joined.Role,
	}, flagVideo, flagScreen)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addConnectionFlags(joinCmd)
}
