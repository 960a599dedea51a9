package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipcast/clipcast-cli/internal/api"
	"github.com/clipcast/clipcast-cli/internal/auth"
	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/media"
	"github.com/clipcast/clipcast-cli/internal/mesh"
	"github.com/clipcast/clipcast-cli/internal/room"
	"github.com/clipcast/clipcast-cli/internal/signaling"
	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagDomain   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagVideo    string
	flagScreen   string
)

// addConnectionFlags registers the transport overrides shared by the
// commands that enter a room.
func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	cmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	cmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	cmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	cmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	cmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	cmd.Flags().StringVar(&flagVideo, "video", "", "IVF file to stream as your camera")
	cmd.Flags().StringVar(&flagScreen, "screen", "", "IVF file offered when screen sharing")
}

func connectionOptions() config.Options {
	return config.Options{
		Domain:     flagDomain,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, room.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// requireLogin loads the cached credentials and builds an API client
// around them.
func requireLogin(cfg *config.Config) (*auth.Credentials, *api.Client, error) {
	creds, err := auth.Load()
	if err != nil {
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return nil, nil, fmt.Errorf("not logged in, run 'clipcast login' first")
		}
		return nil, nil, err
	}
	return creds, api.NewClient(cfg.APIBaseURL, creds.Token), nil
}

// liveSession is everything runLive needs to enter a room.
type liveSession struct {
	SessionID   string
	Title       string
	SessionType string
	HostID      string
	RoomToken   string
	SelfRole    string
}

// runLive wires media, signaling, mesh, and the room loop together and
// hands the terminal to the live view until the session is over.
func runLive(cfg *config.Config, creds *auth.Credentials, sess liveSession, videoPath, screenPath string) error {
	localMedia, err := buildLocalMedia(videoPath)
	if err != nil {
		return room.NewError("set up media", err)
	}

	st := room.NewState(
		sess.SessionID, sess.Title, sess.SessionType, sess.HostID,
		creds.UserID, creds.Username, sess.SelfRole,
	)

	var (
		rm     *room.Room
		roomUI *ui.RoomUI
	)

	ch := signaling.NewChannel(
		func(ev signaling.Event) { rm.Deliver(ev) },
		func(s signaling.State) { rm.SetConnected(s == signaling.StateOpen) },
	)

	coord := mesh.NewCoordinator(
		localMedia,
		ch,
		mesh.NewPeerFactory(cfg),
		config.GuestCapacity(sess.SessionType),
		cfg.FailureGrace,
		func(userID string, track mesh.RemoteTrack) {
			roomUI.PushNotice(room.Notice{
				Level: room.NoticeInfo,
				Text:  fmt.Sprintf("receiving %s from %s", track.Kind, userID),
				At:    time.Now(),
			})
		},
		nil,
	)

	rm = room.New(cfg, sess.RoomToken, st, ch, coord,
		func(snap room.Snapshot) { roomUI.PushSnapshot(snap) },
		func(n room.Notice) { roomUI.PushNotice(n) },
	)
	roomUI = ui.NewRoomUI(rm, screenPath)

	// Keep the displayed share flag in step when the screen source runs
	// out and the mesh reverts to the camera on its own.
	coord.OnShareEnded(func() { rm.SyncScreenShare() })

	roomErr := make(chan error, 1)
	go func() {
		roomErr <- rm.Run(context.Background())
		roomUI.Stop()
	}()

	if err := roomUI.Run(); err != nil {
		rm.Leave()
		<-roomErr
		return room.NewError("run live view", err)
	}

	// The view quit: either the user left or the room loop ended it.
	rm.Leave()
	err = <-roomErr

	switch {
	case err == nil:
		ui.PrintInfo("Left the session")
		return nil
	case errors.Is(err, room.ErrSessionEnded):
		ui.PrintInfo("The session has ended")
		return nil
	case errors.Is(err, room.ErrKicked):
		ui.PrintWarning("You were removed from the session")
		return nil
	default:
		return err
	}
}

// buildLocalMedia assembles the outgoing tracks: generated silence for
// audio, and VP8 frames from an IVF file when one is given.
func buildLocalMedia(videoPath string) (*media.LocalMedia, error) {
	audio := media.NewSilenceSource()

	var video media.Source
	if videoPath != "" {
		src, err := media.NewIVFSource(videoPath, true)
		if err != nil {
			audio.Close()
			return nil, err
		}
		video = src
	}

	return media.New(audio, video)
}
