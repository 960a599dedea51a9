package cmd

import (
	"context"
	"fmt"

	"github.com/clipcast/clipcast-cli/internal/api"
	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/room"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagTitle       string
	flagDescription string
	flagType        string
	flagNoGuests    bool
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"go-live"},
	Short:   "Start a live session and host it",
	Long: `Start a new live session and enter it as host.

Examples:
  clipcast host --title "late night chat"
  clipcast host --title "mix session" --type studio
  clipcast host --title "camera room" --type camera --video intro.ivf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostSession()
	},
}

func hostSession() error {
	if flagTitle == "" {
		return fmt.Errorf("a session title is required")
	}
	switch flagType {
	case api.SessionVoice, api.SessionCamera, api.SessionStudio:
	default:
		return fmt.Errorf("unknown session type %q (voice, camera, or studio)", flagType)
	}

	cfg, err := LoadConfig(connectionOptions())
	if err != nil {
		return err
	}
	creds, client, err := requireLogin(cfg)
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Starting session...")
	defer stopSpinner()

	sess, err := client.StartSession(context.Background(), api.StartSessionRequest{
		Title:           flagTitle,
		Description:     flagDescription,
		SessionType:     flagType,
		AllowGuests:     !flagNoGuests,
		RequireApproval: true,
		MaxGuests:       config.GuestCapacity(flagType),
		EnableChat:      true,
	})
	if err != nil {
		return room.NewError("start session", err)
	}
	stopSpinner()

	fmt.Println(ui.NewSessionInfo(sess.ID, sess.Title, cfg.SessionLink(sess.ID)).View())
	fmt.Println()

	return runLive(cfg, creds, liveSession{
		SessionID:   sess.ID,
		Title:       sess.Title,
		SessionType: sess.SessionType,
		HostID:      sess.HostID,
		RoomToken:   sess.AccessToken,
		SelfRole:    room.RoleHost,
	}, flagVideo, flagScreen)
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringVar(&flagTitle, "title", "", "Session title")
	hostCmd.Flags().StringVar(&flagDescription, "description", "", "Session description")
	hostCmd.Flags().StringVar(&flagType, "type", api.SessionVoice, "Session type: voice, camera, or studio")
	hostCmd.Flags().BoolVar(&flagNoGuests, "no-guests", false, "Disallow guest requests")
	addConnectionFlags(hostCmd)
}
