// Package mesh maintains one bidirectional media peer connection per
// remote publishing participant (never per plain viewer), driving the
// offer/answer/ICE exchange through the room's signaling channel.
package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clipcast/clipcast-cli/internal/media"
	"github.com/clipcast/clipcast-cli/internal/signaling"
)

var (
	// ErrRoomFull rejects a handshake past the configured mesh capacity.
	ErrRoomFull = errors.New("mesh capacity reached")
	// ErrNoConnection marks an answer for a peer we never offered to,
	// a protocol violation rather than a normal race.
	ErrNoConnection = errors.New("no peer connection for participant")
	// ErrClosed marks operations after Cleanup.
	ErrClosed = errors.New("coordinator closed")
)

// SignalSender is the outbound half of the signaling channel. A false
// return means the message was not and will not be transmitted.
type SignalSender interface {
	Send(msg signaling.Message) bool
}

// link is the per-participant connection entry.
type link struct {
	userID    string
	peer      RTCPeer
	senders   map[media.Kind]TrackSender
	state     webrtc.PeerConnectionState
	failTimer *time.Timer
}

// Coordinator owns the local capture handle and the full connection map.
// Operations against different participants are independent; operations
// against the same participant are serialized by the room event loop
// that drives them, while pion callbacks synchronize through mu.
type Coordinator struct {
	sender       SignalSender
	newPeer      PeerFactory
	capacity     int
	failureGrace time.Duration

	onRemoteTrack func(userID string, track RemoteTrack)
	onRemoteGone  func(userID string)
	onShareEnded  func()

	mu      sync.Mutex
	local   *media.LocalMedia
	links   map[string]*link
	pending map[string][]webrtc.ICECandidateInit
	remote  map[string][]RemoteTrack
	screen  *media.Track
	closed  bool
}

// NewCoordinator wires the mesh to its signaling transport and local
// capture handle. capacity bounds the number of simultaneous links;
// failureGrace is how long a failed connection may linger before
// teardown. onRemoteTrack/onRemoteGone surface remote media to the UI
// layer and may be nil.
func NewCoordinator(
	local *media.LocalMedia,
	sender SignalSender,
	newPeer PeerFactory,
	capacity int,
	failureGrace time.Duration,
	onRemoteTrack func(userID string, track RemoteTrack),
	onRemoteGone func(userID string),
) *Coordinator {
	return &Coordinator{
		sender:        sender,
		newPeer:       newPeer,
		capacity:      capacity,
		failureGrace:  failureGrace,
		onRemoteTrack: onRemoteTrack,
		onRemoteGone:  onRemoteGone,
		local:         local,
		links:         make(map[string]*link),
		pending:       make(map[string][]webrtc.ICECandidateInit),
		remote:        make(map[string][]RemoteTrack),
	}
}

// CreateOrGet returns the connection entry for a participant, allocating
// it on first use. Idempotent: a second call returns the existing entry.
// All local tracks are attached and any ICE candidates queued for the
// participant are applied, in arrival order, before the entry is
// returned.
func (c *Coordinator) CreateOrGet(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.createOrGetLocked(userID)
	return err
}

func (c *Coordinator) createOrGetLocked(userID string) (*link, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if l, ok := c.links[userID]; ok {
		return l, nil
	}

	peer, err := c.newPeer()
	if err != nil {
		return nil, fmt.Errorf("allocate connection for %s: %w", userID, err)
	}

	l := &link{
		userID:  userID,
		peer:    peer,
		senders: make(map[media.Kind]TrackSender),
		state:   webrtc.PeerConnectionStateNew,
	}

	if c.local != nil {
		for _, t := range c.local.Tracks() {
			sender, err := peer.AddTrack(t.Local())
			if err != nil {
				peer.Close()
				return nil, fmt.Errorf("attach %s track for %s: %w", t.Kind(), userID, err)
			}
			l.senders[t.Kind()] = sender
		}
	}
	// Receive both kinds even when we publish neither.
	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		if _, ok := l.senders[kind]; !ok {
			if err := peer.AddRecvTransceiver(kind); err != nil {
				peer.Close()
				return nil, fmt.Errorf("add %s transceiver for %s: %w", kind, userID, err)
			}
		}
	}

	peer.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.sender.Send(signaling.NewSignal(userID, signaling.SignalICECandidate, cand))
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.handleStateChange(userID, state)
	})
	peer.OnTrack(func(track RemoteTrack) {
		c.handleRemoteTrack(userID, track)
	})

	c.links[userID] = l

	// Replay candidates that arrived before the connection existed.
	queued := c.pending[userID]
	delete(c.pending, userID)
	for _, cand := range queued {
		if err := peer.AddICECandidate(cand); err != nil {
			slog.Warn("apply queued ICE candidate", "user", userID, "err", err)
		}
	}
	if len(queued) > 0 {
		slog.Debug("replayed queued ICE candidates", "user", userID, "count", len(queued))
	}

	return l, nil
}

// CreateOffer starts the handshake toward one participant. A failure is
// reported to the caller and leaves any existing connection intact.
func (c *Coordinator) CreateOffer(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCapacityLocked(userID); err != nil {
		return err
	}
	l, err := c.createOrGetLocked(userID)
	if err != nil {
		return err
	}

	offer, err := l.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", userID, err)
	}
	if l.state == webrtc.PeerConnectionStateNew {
		l.state = webrtc.PeerConnectionStateConnecting
	}
	if !c.sender.Send(signaling.NewSignal(userID, signaling.SignalOffer, offer)) {
		return fmt.Errorf("send offer to %s: signaling channel not open", userID)
	}
	return nil
}

// HandleOffer applies a remote offer and responds with an answer.
func (c *Coordinator) HandleOffer(userID string, desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkCapacityLocked(userID); err != nil {
		return err
	}
	l, err := c.createOrGetLocked(userID)
	if err != nil {
		return err
	}

	if err := l.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply offer from %s: %w", userID, err)
	}
	answer, err := l.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("answer offer from %s: %w", userID, err)
	}
	if l.state == webrtc.PeerConnectionStateNew {
		l.state = webrtc.PeerConnectionStateConnecting
	}
	if !c.sender.Send(signaling.NewSignal(userID, signaling.SignalAnswer, answer)) {
		return fmt.Errorf("send answer to %s: signaling channel not open", userID)
	}
	return nil
}

// HandleAnswer applies a remote answer to a handshake we started. An
// answer without a connection indicates a protocol violation.
func (c *Coordinator) HandleAnswer(userID string, desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[userID]
	if !ok {
		return fmt.Errorf("answer from %s: %w", userID, ErrNoConnection)
	}
	if err := l.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("apply answer from %s: %w", userID, err)
	}
	return nil
}

// HandleICECandidate applies a candidate immediately when the connection
// exists, and otherwise queues it for replay. Candidates are never
// discarded.
func (c *Coordinator) HandleICECandidate(userID string, cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	l, ok := c.links[userID]
	if !ok {
		c.pending[userID] = append(c.pending[userID], cand)
		return nil
	}
	if err := l.peer.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ICE candidate from %s: %w", userID, err)
	}
	return nil
}

// HandleSignal decodes a relayed handshake payload and dispatches it.
// Ready signals are the room layer's concern and are rejected here.
func (c *Coordinator) HandleSignal(ev *signaling.WebRTCSignal) error {
	switch ev.SignalType {
	case signaling.SignalOffer, signaling.SignalAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(ev.SignalData, &desc); err != nil {
			return fmt.Errorf("decode %s from %s: %w", ev.SignalType, ev.FromUserID, err)
		}
		if ev.SignalType == signaling.SignalOffer {
			return c.HandleOffer(ev.FromUserID, desc)
		}
		return c.HandleAnswer(ev.FromUserID, desc)
	case signaling.SignalICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(ev.SignalData, &cand); err != nil {
			return fmt.Errorf("decode candidate from %s: %w", ev.FromUserID, err)
		}
		return c.HandleICECandidate(ev.FromUserID, cand)
	default:
		return fmt.Errorf("unexpected signal type %q from %s", ev.SignalType, ev.FromUserID)
	}
}

// Remove closes the participant's connection, releases its remote media
// and clears its candidate queue. Candidates arriving afterwards begin a
// fresh queue.
func (c *Coordinator) Remove(userID string) {
	c.mu.Lock()
	l, ok := c.links[userID]
	if ok {
		delete(c.links, userID)
	}
	delete(c.pending, userID)
	_, hadRemote := c.remote[userID]
	delete(c.remote, userID)
	c.mu.Unlock()

	if l != nil {
		if l.failTimer != nil {
			l.failTimer.Stop()
		}
		l.peer.Close()
	}
	if hadRemote && c.onRemoteGone != nil {
		c.onRemoteGone(userID)
	}
	if ok {
		slog.Debug("removed peer connection", "user", userID)
	}
}

// ToggleAudio flips the enabled flag on local audio tracks in place; no
// renegotiation, no peer notification. Broadcasting the new flag over
// signaling is the orchestration layer's job.
func (c *Coordinator) ToggleAudio(enabled bool) {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local != nil {
		local.SetAudioEnabled(enabled)
	}
}

// ToggleVideo flips the enabled flag on local video tracks in place.
func (c *Coordinator) ToggleVideo(enabled bool) {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local != nil {
		local.SetVideoEnabled(enabled)
	}
}

// StartScreenShare replaces the outgoing video track on every existing
// connection with the screen track, without renegotiation. The track's
// intrinsic end signal reverts to the camera automatically.
func (c *Coordinator) StartScreenShare(screen *media.Track) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if screen == nil || screen.Kind() != media.KindVideo {
		c.mu.Unlock()
		return errors.New("screen share requires a video track")
	}

	for _, l := range c.links {
		sender, ok := l.senders[media.KindVideo]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(screen.Local()); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("replace video track for %s: %w", l.userID, err)
		}
	}
	c.screen = screen
	c.mu.Unlock()

	// Registered outside the lock: a source that already ran out fires
	// the revert right here, and the revert takes the lock itself.
	screen.OnEnded(func() {
		c.StopScreenShare()
	})
	return nil
}

// StopScreenShare restores the camera track on every connection and
// releases the screen track.
func (c *Coordinator) StopScreenShare() {
	c.mu.Lock()
	screen := c.screen
	c.screen = nil
	notify := c.onShareEnded
	var camera webrtc.TrackLocal
	if c.local != nil {
		if v := c.local.Video(); v != nil {
			camera = v.Local()
		}
	}
	if camera != nil {
		for _, l := range c.links {
			sender, ok := l.senders[media.KindVideo]
			if !ok {
				continue
			}
			if err := sender.ReplaceTrack(camera); err != nil {
				slog.Warn("restore camera track", "user", l.userID, "err", err)
			}
		}
	}
	c.mu.Unlock()

	if screen != nil {
		screen.OnEnded(nil)
		screen.Close()
	}
	if screen != nil && notify != nil {
		notify()
	}
}

// OnShareEnded registers a callback invoked after a screen share stops,
// whether by request or by the source running out. The room loop uses
// it to keep its displayed flag in step with the mesh. May be nil.
func (c *Coordinator) OnShareEnded(fn func()) {
	c.mu.Lock()
	c.onShareEnded = fn
	c.mu.Unlock()
}

// ScreenSharing reports whether a screen track is currently published.
func (c *Coordinator) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// UpdateLocalMedia swaps the capture handle, replacing all outgoing
// tracks across every existing connection to match. Used when the local
// capture is restarted.
func (c *Coordinator) UpdateLocalMedia(m *media.LocalMedia) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = m

	byKind := make(map[media.Kind]webrtc.TrackLocal)
	if m != nil {
		for _, t := range m.Tracks() {
			byKind[t.Kind()] = t.Local()
		}
	}
	for _, l := range c.links {
		for kind, sender := range l.senders {
			replacement := byKind[kind] // nil detaches the kind
			if err := sender.ReplaceTrack(replacement); err != nil {
				slog.Warn("replace outgoing track", "user", l.userID, "kind", kind, "err", err)
			}
		}
	}
}

// Cleanup closes every connection, releases every held media reference
// and clears all internal maps. Idempotent; called exactly once on room
// exit by the orchestration layer.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	links := c.links
	screen := c.screen
	local := c.local
	c.links = make(map[string]*link)
	c.pending = make(map[string][]webrtc.ICECandidateInit)
	c.remote = make(map[string][]RemoteTrack)
	c.screen = nil
	c.local = nil
	c.mu.Unlock()

	for _, l := range links {
		if l.failTimer != nil {
			l.failTimer.Stop()
		}
		l.peer.Close()
	}
	if screen != nil {
		screen.OnEnded(nil)
		screen.Close()
	}
	if local != nil {
		local.Close()
	}
}

// Size reports the number of live connection entries.
func (c *Coordinator) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

// Has reports whether a connection entry exists for the participant.
func (c *Coordinator) Has(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[userID]
	return ok
}

// RemoteTracks returns the remote media currently held for a
// participant.
func (c *Coordinator) RemoteTracks(userID string) []RemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RemoteTrack(nil), c.remote[userID]...)
}

// ConnectionState reports the last observed state for a participant,
// or "absent" when no entry exists.
func (c *Coordinator) ConnectionState(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[userID]
	if !ok {
		return "absent"
	}
	return l.state.String()
}

func (c *Coordinator) checkCapacityLocked(userID string) error {
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.links[userID]; exists {
		return nil
	}
	if c.capacity > 0 && len(c.links) >= c.capacity {
		return fmt.Errorf("%w: %d peers", ErrRoomFull, c.capacity)
	}
	return nil
}

// handleStateChange reacts to the native connection-state observer.
// Terminal failure tears the link down only after the grace period, so
// transient ICE renegotiation can recover.
func (c *Coordinator) handleStateChange(userID string, state webrtc.PeerConnectionState) {
	c.mu.Lock()
	l, ok := c.links[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	l.state = state
	slog.Debug("peer connection state", "user", userID, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed:
		if l.failTimer == nil {
			l.failTimer = time.AfterFunc(c.failureGrace, func() {
				c.mu.Lock()
				cur, ok := c.links[userID]
				stillFailed := ok && cur.state == webrtc.PeerConnectionStateFailed
				c.mu.Unlock()
				if stillFailed {
					slog.Warn("peer connection failed, tearing down", "user", userID)
					c.Remove(userID)
				}
			})
		}
	case webrtc.PeerConnectionStateConnected:
		if l.failTimer != nil {
			l.failTimer.Stop()
			l.failTimer = nil
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) handleRemoteTrack(userID string, track RemoteTrack) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.links[userID]; !ok {
		// The participant left while the track was in flight.
		c.mu.Unlock()
		return
	}
	c.remote[userID] = append(c.remote[userID], track)
	fn := c.onRemoteTrack
	c.mu.Unlock()

	if fn != nil {
		fn(userID, track)
	}
}
