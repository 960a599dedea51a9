package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/media"
	"github.com/clipcast/clipcast-cli/internal/signaling"
)

// channelAPI is the slice of the signaling channel the room loop uses.
type channelAPI interface {
	Connect(rawURL string) error
	Send(msg signaling.Message) bool
	Disconnect()
}

// coordinatorAPI is the slice of the mesh coordinator the room loop uses.
type coordinatorAPI interface {
	CreateOrGet(userID string) error
	CreateOffer(userID string) error
	HandleSignal(ev *signaling.WebRTCSignal) error
	Remove(userID string)
	ToggleAudio(enabled bool)
	ToggleVideo(enabled bool)
	StartScreenShare(screen *media.Track) error
	StopScreenShare()
	ScreenSharing() bool
	Cleanup()
}

// Room drives one live session: it owns the State, consumes signaling
// events, and steers the mesh coordinator. All mutation happens on the
// Run goroutine; the exported methods post commands onto it.
type Room struct {
	cfg   *config.Config
	token string
	state *State
	ch    channelAPI
	mesh  coordinatorAPI

	events   chan signaling.Event
	commands chan func()
	done     chan struct{}
	exitErr  error
	exitOnce sync.Once

	// readyPeers tracks which publishers announced their media is up.
	// Offers to a peer wait for its announcement, with a timer fallback
	// for clients that never send one.
	readyPeers    map[string]bool
	pendingOffers map[string]*time.Timer

	onUpdate func(Snapshot)
	onNotice func(Notice)

	now func() time.Time
}

// New builds a room around an already-populated State. onUpdate and
// onNotice may be nil.
func New(cfg *config.Config, token string, st *State, ch channelAPI, mesh coordinatorAPI, onUpdate func(Snapshot), onNotice func(Notice)) *Room {
	return &Room{
		cfg:           cfg,
		token:         token,
		state:         st,
		ch:            ch,
		mesh:          mesh,
		events:        make(chan signaling.Event, 64),
		commands:      make(chan func(), 16),
		done:          make(chan struct{}),
		readyPeers:    make(map[string]bool),
		pendingOffers: make(map[string]*time.Timer),
		onUpdate:      onUpdate,
		onNotice:      onNotice,
		now:           time.Now,
	}
}

// Deliver feeds one inbound signaling event into the loop. It is the
// listener to hand to signaling.NewChannel. Events arriving after the
// room exits are dropped.
func (r *Room) Deliver(ev signaling.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// SetConnected reports channel connectivity changes into the loop. Wire
// it to the channel's state callback.
func (r *Room) SetConnected(connected bool) {
	r.post(func() {
		r.state.Connected = connected
	})
}

// Run connects the signaling channel and processes events until the
// session ends, the client is kicked, the context is canceled, or Leave
// is called. Teardown happens exactly once, before Run returns.
func (r *Room) Run(ctx context.Context) error {
	url := r.cfg.LiveSocketURL(r.state.SessionID, r.token, r.state.SelfName)
	if err := r.ch.Connect(url); err != nil {
		r.finish(NewError("room.connect", err))
		r.teardown()
		return r.exitErr
	}
	r.state.Connected = true

	if r.state.IsSelfPublishing() {
		r.announceReady()
	}
	r.publish()

	for {
		select {
		case <-ctx.Done():
			r.finish(ctx.Err())
		case ev := <-r.events:
			r.handleEvent(ev)
		case cmd := <-r.commands:
			cmd()
		case <-r.done:
		}

		select {
		case <-r.done:
			r.teardown()
			return r.exitErr
		default:
		}
		r.publish()
	}
}

// finish records the exit reason and unblocks the loop. First caller
// wins.
func (r *Room) finish(err error) {
	r.exitOnce.Do(func() {
		r.exitErr = err
		close(r.done)
	})
}

func (r *Room) teardown() {
	for _, t := range r.pendingOffers {
		t.Stop()
	}
	r.pendingOffers = nil
	r.mesh.Cleanup()
	r.ch.Disconnect()
	r.state.Connected = false
	r.state.MediaReady = false
	r.publish()
}

func (r *Room) post(fn func()) {
	select {
	case r.commands <- fn:
	case <-r.done:
	}
}

func (r *Room) publish() {
	if r.onUpdate != nil {
		r.onUpdate(r.state.Snapshot())
	}
}

func (r *Room) notice(level NoticeLevel, format string, args ...any) {
	if r.onNotice == nil {
		return
	}
	r.onNotice(Notice{Level: level, Text: fmt.Sprintf(format, args...), At: r.now()})
}

// announceReady broadcasts that this client's media is set up, so peers
// holding back an offer can send it now.
func (r *Room) announceReady() {
	r.state.MediaReady = true
	r.ch.Send(signaling.NewSignal(signaling.BroadcastTarget, signaling.SignalReady, nil))
}

// shouldOffer picks the offering side of a pair deterministically so
// both peers never offer at once.
func (r *Room) shouldOffer(peerID string) bool {
	return r.state.IsSelfPublishing() && r.state.SelfID < peerID
}

// scheduleOffer arranges an offer to a publisher peer. If the peer has
// announced readiness the offer goes out immediately; otherwise it waits
// for the announcement, with a fallback timer for clients that never
// send one.
func (r *Room) scheduleOffer(peerID string) {
	if !r.shouldOffer(peerID) {
		return
	}
	if r.readyPeers[peerID] {
		r.sendOffer(peerID)
		return
	}
	if _, waiting := r.pendingOffers[peerID]; waiting {
		return
	}
	id := peerID
	r.pendingOffers[id] = time.AfterFunc(r.cfg.OfferFallback, func() {
		r.post(func() {
			if _, still := r.pendingOffers[id]; !still {
				return
			}
			delete(r.pendingOffers, id)
			r.sendOffer(id)
		})
	})
}

func (r *Room) sendOffer(peerID string) {
	if _, ok := r.state.Participant(peerID); !ok {
		return
	}
	if err := r.mesh.CreateOffer(peerID); err != nil {
		slog.Warn("offer failed", "peer", peerID, "error", err)
	}
}

func (r *Room) cancelOffer(peerID string) {
	if t, ok := r.pendingOffers[peerID]; ok {
		t.Stop()
		delete(r.pendingOffers, peerID)
	}
}

func (r *Room) handleEvent(ev signaling.Event) {
	switch e := ev.(type) {
	case *signaling.CurrentParticipants:
		r.handleRoster(e)
	case *signaling.UserJoined:
		r.handleUserJoined(e)
	case *signaling.UserLeft:
		r.handleUserLeft(e)
	case *signaling.ChatMessage:
		r.handleChat(e)
	case *signaling.Reaction:
		r.notice(NoticeInfo, "%s reacted %s", e.Username, e.Reaction)
	case *signaling.GuestRequest:
		r.handleGuestRequest(e)
	case *signaling.GuestApproved:
		r.handleGuestApproved(e)
	case *signaling.GuestRejected:
		r.state.SelfRole = RoleViewer
		r.notice(NoticeWarning, "guest request declined")
	case *signaling.GuestJoined:
		r.handleGuestJoined(e)
	case *signaling.ForceMuteAudio:
		r.handleForceMute(media.KindAudio, e.By)
	case *signaling.ForceMuteVideo:
		r.handleForceMute(media.KindVideo, e.By)
	case *signaling.Kicked:
		r.finish(WrapError("room.kicked", ErrKicked, e.Reason))
	case *signaling.Promoted:
		r.handlePromoted(e)
	case *signaling.ParticipantMediaChanged:
		r.handleMediaChanged(e)
	case *signaling.ParticipantRoleChanged:
		r.handleRoleChanged(e)
	case *signaling.WebRTCSignal:
		r.handleSignal(e)
	case *signaling.SessionEnded:
		r.finish(WrapError("room.ended", ErrSessionEnded, e.Message))
	case signaling.Unknown:
		slog.Debug("unhandled event", "type", ev.Type())
	default:
		slog.Debug("unhandled event", "type", ev.Type())
	}
}

func (r *Room) handleRoster(e *signaling.CurrentParticipants) {
	r.state.ViewerCount = e.ViewerCount
	for _, p := range e.Participants {
		if p.UserID == r.state.SelfID {
			continue
		}
		r.state.UpsertParticipant(p)
		if IsPublisher(p.Role) {
			r.scheduleOffer(p.UserID)
		}
	}
}

func (r *Room) handleUserJoined(e *signaling.UserJoined) {
	if e.ViewerCount > 0 {
		r.state.ViewerCount = e.ViewerCount
	}
	if e.UserID == r.state.SelfID {
		return
	}
	r.state.UpsertParticipant(signaling.Participant{
		UserID:       e.UserID,
		Username:     e.Username,
		Role:         e.Role,
		AudioEnabled: true,
		VideoEnabled: true,
	})
	r.notice(NoticeInfo, "%s joined", e.Username)
	if IsPublisher(e.Role) {
		r.scheduleOffer(e.UserID)
	}
}

func (r *Room) handleUserLeft(e *signaling.UserLeft) {
	if e.ViewerCount > 0 {
		r.state.ViewerCount = e.ViewerCount
	}
	r.state.RemoveParticipant(e.UserID)
	r.state.RemoveGuestRequest(e.UserID)
	r.cancelOffer(e.UserID)
	delete(r.readyPeers, e.UserID)
	r.mesh.Remove(e.UserID)
	if e.Username != "" {
		r.notice(NoticeInfo, "%s left", e.Username)
	}
}

func (r *Room) handleChat(e *signaling.ChatMessage) {
	r.state.AppendChat(ChatEntry{
		ID:       fmt.Sprintf("%s-%s", e.UserID, e.Timestamp),
		UserID:   e.UserID,
		Username: e.Username,
		Message:  e.Message,
		At:       r.now(),
	})
}

func (r *Room) handleGuestRequest(e *signaling.GuestRequest) {
	if r.state.SelfRole != RoleHost && r.state.SelfRole != RoleCohost {
		return
	}
	if r.state.AddGuestRequest(e.UserID, e.Username) {
		r.notice(NoticeInfo, "%s wants to join as guest", e.Username)
	}
}

// handleGuestApproved promotes this client to guest. Media starts
// publishing, so readiness is re-announced before any offers fly.
func (r *Room) handleGuestApproved(e *signaling.GuestApproved) {
	r.state.SelfRole = RoleGuest
	r.notice(NoticeSuccess, "guest request approved")
	r.announceReady()
	for _, p := range r.state.Publishers() {
		r.scheduleOffer(p.UserID)
	}
}

func (r *Room) handleGuestJoined(e *signaling.GuestJoined) {
	r.state.RemoveGuestRequest(e.UserID)
	if p, ok := r.state.Participant(e.UserID); ok {
		p.Role = RoleGuest
	} else {
		r.state.UpsertParticipant(signaling.Participant{
			UserID:       e.UserID,
			Username:     e.Username,
			Role:         RoleGuest,
			AudioEnabled: true,
			VideoEnabled: true,
		})
	}
	r.notice(NoticeInfo, "%s joined as guest", e.Username)
	if e.UserID != r.state.SelfID {
		r.scheduleOffer(e.UserID)
	}
}

// handleForceMute applies a moderator mute locally and reports the new
// flags so the roster stays consistent for everyone.
func (r *Room) handleForceMute(kind media.Kind, by string) {
	disabled := false
	switch kind {
	case media.KindAudio:
		if !r.state.AudioEnabled {
			return
		}
		r.state.AudioEnabled = false
		r.mesh.ToggleAudio(false)
		r.ch.Send(signaling.NewMediaStatus(&disabled, nil))
		r.notice(NoticeWarning, "muted by %s", by)
	case media.KindVideo:
		if !r.state.VideoEnabled {
			return
		}
		r.state.VideoEnabled = false
		r.mesh.ToggleVideo(false)
		r.ch.Send(signaling.NewMediaStatus(nil, &disabled))
		r.notice(NoticeWarning, "camera turned off by %s", by)
	}
}

func (r *Room) handlePromoted(e *signaling.Promoted) {
	wasPublishing := r.state.IsSelfPublishing()
	r.state.SelfRole = e.NewRole
	r.notice(NoticeSuccess, "promoted to %s", e.NewRole)
	if !wasPublishing && r.state.IsSelfPublishing() {
		r.announceReady()
		for _, p := range r.state.Publishers() {
			r.scheduleOffer(p.UserID)
		}
	}
}

func (r *Room) handleMediaChanged(e *signaling.ParticipantMediaChanged) {
	p, ok := r.state.Participant(e.UserID)
	if !ok {
		return
	}
	if e.AudioEnabled != nil {
		p.AudioEnabled = *e.AudioEnabled
	}
	if e.VideoEnabled != nil {
		p.VideoEnabled = *e.VideoEnabled
	}
}

func (r *Room) handleRoleChanged(e *signaling.ParticipantRoleChanged) {
	p, ok := r.state.Participant(e.UserID)
	if !ok {
		return
	}
	wasPublisher := IsPublisher(p.Role)
	p.Role = e.NewRole
	if !wasPublisher && IsPublisher(e.NewRole) {
		r.scheduleOffer(e.UserID)
	}
}

// handleSignal routes handshake payloads. Readiness announcements are
// consumed here; offers, answers, and candidates go to the mesh.
func (r *Room) handleSignal(e *signaling.WebRTCSignal) {
	if e.FromUserID == r.state.SelfID {
		return
	}
	if e.SignalType == signaling.SignalReady {
		r.handlePeerReady(e.FromUserID)
		return
	}
	if err := r.mesh.HandleSignal(e); err != nil {
		slog.Warn("signal handling failed", "peer", e.FromUserID, "type", e.SignalType, "error", err)
	}
}

// handlePeerReady marks a peer's media as up and flushes any offer held
// back for it. The first announcement gets a directed reply so a
// newcomer learns that established peers are ready too.
func (r *Room) handlePeerReady(peerID string) {
	first := !r.readyPeers[peerID]
	r.readyPeers[peerID] = true
	if first && r.state.MediaReady {
		r.ch.Send(signaling.NewSignal(peerID, signaling.SignalReady, nil))
	}
	if _, waiting := r.pendingOffers[peerID]; waiting {
		r.cancelOffer(peerID)
		r.sendOffer(peerID)
	}
}

// --- commands posted from other goroutines ---

// Leave ends participation voluntarily.
func (r *Room) Leave() {
	r.post(func() { r.finish(nil) })
}

// ToggleAudio flips the microphone and reports the change.
func (r *Room) ToggleAudio() {
	r.post(func() {
		enabled := !r.state.AudioEnabled
		r.state.AudioEnabled = enabled
		r.mesh.ToggleAudio(enabled)
		r.ch.Send(signaling.NewMediaStatus(&enabled, nil))
	})
}

// ToggleVideo flips the camera and reports the change.
func (r *Room) ToggleVideo() {
	r.post(func() {
		enabled := !r.state.VideoEnabled
		r.state.VideoEnabled = enabled
		r.mesh.ToggleVideo(enabled)
		r.ch.Send(signaling.NewMediaStatus(nil, &enabled))
	})
}

// SendChat posts a chat line. The server echoes it back to everyone
// including the sender, so nothing is appended locally here.
func (r *Room) SendChat(text string) {
	if text == "" {
		return
	}
	r.post(func() {
		r.ch.Send(signaling.NewChat(text))
	})
}

// SendReaction broadcasts a reaction glyph.
func (r *Room) SendReaction(glyph string) {
	r.post(func() {
		r.ch.Send(signaling.NewReaction(glyph))
	})
}

// RequestGuest asks the host to let this viewer publish.
func (r *Room) RequestGuest() {
	r.post(func() {
		if r.state.SelfRole != RoleViewer {
			return
		}
		r.ch.Send(signaling.NewGuestRequest())
		r.notice(NoticeInfo, "guest request sent")
	})
}

// RespondGuest approves or rejects a pending guest request. Host and
// cohost only.
func (r *Room) RespondGuest(userID string, approve bool) {
	r.post(func() {
		if r.state.SelfRole != RoleHost && r.state.SelfRole != RoleCohost {
			r.notice(NoticeError, "%v", ErrNotHost)
			return
		}
		r.state.RemoveGuestRequest(userID)
		r.ch.Send(signaling.NewGuestResponse(userID, approve))
	})
}

// MuteParticipant force-mutes another participant's microphone.
func (r *Room) MuteParticipant(userID string) {
	r.moderate(userID, signaling.ParticipantMuteAudio, "", "")
}

// DisableParticipantVideo force-disables another participant's camera.
func (r *Room) DisableParticipantVideo(userID string) {
	r.moderate(userID, signaling.ParticipantMuteVideo, "", "")
}

// KickParticipant removes another participant from the session.
func (r *Room) KickParticipant(userID, reason string) {
	r.moderate(userID, signaling.ParticipantKick, "", reason)
}

// PromoteParticipant changes another participant's role.
func (r *Room) PromoteParticipant(userID, newRole string) {
	r.moderate(userID, signaling.ParticipantPromote, newRole, "")
}

func (r *Room) moderate(userID, action, newRole, reason string) {
	r.post(func() {
		if r.state.SelfRole != RoleHost && r.state.SelfRole != RoleCohost {
			r.notice(NoticeError, "%v", ErrNotHost)
			return
		}
		r.ch.Send(signaling.NewParticipantAction(userID, action, newRole, reason))
	})
}

// StartScreenShare swaps the outgoing video for frames read from an IVF
// file. When the file runs out the camera comes back on its own.
func (r *Room) StartScreenShare(path string) {
	r.post(func() {
		source, err := media.NewIVFSource(path, false)
		if err != nil {
			r.notice(NoticeError, "screen share: %v", err)
			return
		}
		track, err := media.NewTrack(source)
		if err != nil {
			source.Close()
			r.notice(NoticeError, "screen share: %v", err)
			return
		}
		if err := r.mesh.StartScreenShare(track); err != nil {
			track.Close()
			r.notice(NoticeError, "screen share: %v", err)
			return
		}
		r.state.ScreenSharing = true
		r.notice(NoticeSuccess, "screen share started")
	})
}

// StopScreenShare restores the camera track.
func (r *Room) StopScreenShare() {
	r.post(func() {
		r.mesh.StopScreenShare()
		r.state.ScreenSharing = false
	})
}

// SyncScreenShare reconciles the displayed flag with the coordinator,
// which turns screen share off itself when the source ends.
func (r *Room) SyncScreenShare() {
	r.post(func() {
		r.state.ScreenSharing = r.mesh.ScreenSharing()
	})
}
