package room

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/media"
	"github.com/clipcast/clipcast-cli/internal/signaling"
)

type fakeChannel struct {
	mu          sync.Mutex
	msgs        []signaling.Message
	connectErr  error
	disconnects int
}

func (c *fakeChannel) Connect(rawURL string) error { return c.connectErr }

func (c *fakeChannel) Send(msg signaling.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChannel) sent() []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Message(nil), c.msgs...)
}

func (c *fakeChannel) sentWith(action string, kind signaling.SignalType) []signaling.Message {
	var out []signaling.Message
	for _, m := range c.sent() {
		if m.Action == action && (kind == "" || m.SignalType == kind) {
			out = append(out, m)
		}
	}
	return out
}

type fakeMesh struct {
	mu       sync.Mutex
	created  []string
	offers   []string
	removed  []string
	signals  []*signaling.WebRTCSignal
	audio    []bool
	video    []bool
	cleanups int
	sharing  bool
}

func (m *fakeMesh) CreateOrGet(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, userID)
	return nil
}

func (m *fakeMesh) CreateOffer(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, userID)
	return nil
}

func (m *fakeMesh) HandleSignal(ev *signaling.WebRTCSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, ev)
	return nil
}

func (m *fakeMesh) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, userID)
}

func (m *fakeMesh) ToggleAudio(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, enabled)
}

func (m *fakeMesh) ToggleVideo(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = append(m.video, enabled)
}

func (m *fakeMesh) StartScreenShare(screen *media.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = true
	return nil
}

func (m *fakeMesh) StopScreenShare() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = false
}

func (m *fakeMesh) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

func (m *fakeMesh) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
}

func (m *fakeMesh) offered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.offers...)
}

func (m *fakeMesh) removedPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

type testRoom struct {
	room *Room
	ch   *fakeChannel
	mesh *fakeMesh

	mu      sync.Mutex
	snaps   []Snapshot
	notices []Notice

	runErr chan error
	cancel context.CancelFunc
}

func startTestRoom(t *testing.T, selfID, selfRole string, offerFallback time.Duration) *testRoom {
	t.Helper()

	tr := &testRoom{
		ch:     &fakeChannel{},
		mesh:   &fakeMesh{},
		runErr: make(chan error, 1),
	}
	cfg := &config.Config{OfferFallback: offerFallback, FailureGrace: time.Second}
	st := NewState("sess1", "late night", "voice", "hostid", selfID, "self", selfRole)
	tr.room = New(cfg, "tok", st, tr.ch, tr.mesh,
		func(snap Snapshot) {
			tr.mu.Lock()
			tr.snaps = append(tr.snaps, snap)
			tr.mu.Unlock()
		},
		func(n Notice) {
			tr.mu.Lock()
			tr.notices = append(tr.notices, n)
			tr.mu.Unlock()
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	tr.cancel = cancel
	go func() { tr.runErr <- tr.room.Run(ctx) }()

	t.Cleanup(func() {
		tr.room.Leave()
		cancel()
		select {
		case <-tr.runErr:
		case <-time.After(time.Second):
			t.Error("room loop did not exit")
		}
	})
	return tr
}

func (tr *testRoom) latest(t *testing.T, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		tr.mu.Lock()
		var snap Snapshot
		n := len(tr.snaps)
		if n > 0 {
			snap = tr.snaps[n-1]
		}
		tr.mu.Unlock()
		if n > 0 && cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHostAnnouncesReadyOnConnect(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	waitUntil(t, func() bool {
		return len(tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady)) == 1
	}, "host never broadcast readiness")

	ready := tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady)[0]
	if ready.ToUserID != signaling.BroadcastTarget {
		t.Errorf("ready addressed to %q, want broadcast", ready.ToUserID)
	}
}

func TestViewerDoesNotAnnounceReady(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleViewer, time.Hour)

	tr.latest(t, func(s Snapshot) bool { return s.Connected }, "never connected")
	if got := len(tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady)); got != 0 {
		t.Errorf("viewer sent %d ready signals, want 0", got)
	}
}

func TestOfferDeferredUntilPeerReady(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.Deliver(&signaling.CurrentParticipants{
		Participants: []signaling.Participant{
			{UserID: "b-guest", Username: "bob", Role: RoleGuest},
		},
		ViewerCount: 3,
	})
	tr.latest(t, func(s Snapshot) bool { return len(s.Participants) == 1 }, "roster never applied")

	if got := tr.mesh.offered(); len(got) != 0 {
		t.Fatalf("offered to %v before the peer was ready", got)
	}

	tr.room.Deliver(&signaling.WebRTCSignal{SignalType: signaling.SignalReady, FromUserID: "b-guest"})
	waitUntil(t, func() bool { return len(tr.mesh.offered()) == 1 }, "offer never sent after ready")
	if tr.mesh.offered()[0] != "b-guest" {
		t.Errorf("offered to %q, want b-guest", tr.mesh.offered()[0])
	}
}

func TestOfferFallbackWhenPeerNeverAnnounces(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, 25*time.Millisecond)

	tr.room.Deliver(&signaling.UserJoined{UserID: "b-guest", Username: "bob", Role: RoleGuest})

	waitUntil(t, func() bool { return len(tr.mesh.offered()) == 1 }, "fallback offer never fired")
}

func TestNoOfferToViewersOrLowerID(t *testing.T) {
	tr := startTestRoom(t, "m-self", RoleHost, 10*time.Millisecond)

	tr.room.Deliver(&signaling.CurrentParticipants{
		Participants: []signaling.Participant{
			{UserID: "z-viewer", Username: "vic", Role: RoleViewer},
			{UserID: "a-guest", Username: "amy", Role: RoleGuest},
		},
	})
	tr.latest(t, func(s Snapshot) bool { return len(s.Participants) == 2 }, "roster never applied")

	// The viewer publishes nothing; the lower-ID publisher offers to us.
	time.Sleep(50 * time.Millisecond)
	if got := tr.mesh.offered(); len(got) != 0 {
		t.Errorf("offered to %v, want no offers", got)
	}
}

func TestReadyGetsDirectedReply(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.Deliver(&signaling.UserJoined{UserID: "z-guest", Username: "zoe", Role: RoleGuest})
	tr.room.Deliver(&signaling.WebRTCSignal{SignalType: signaling.SignalReady, FromUserID: "z-guest"})

	waitUntil(t, func() bool {
		for _, m := range tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady) {
			if m.ToUserID == "z-guest" {
				return true
			}
		}
		return false
	}, "no directed ready reply")

	// A repeated announcement must not produce another reply.
	tr.room.Deliver(&signaling.WebRTCSignal{SignalType: signaling.SignalReady, FromUserID: "z-guest"})
	tr.room.SendChat("sync")
	waitUntil(t, func() bool { return len(tr.ch.sentWith(signaling.ActionChat, "")) == 1 }, "chat never sent")

	replies := 0
	for _, m := range tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady) {
		if m.ToUserID == "z-guest" {
			replies++
		}
	}
	if replies != 1 {
		t.Errorf("sent %d directed replies, want 1", replies)
	}
}

func TestSignalsRoutedToMesh(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.Deliver(&signaling.WebRTCSignal{SignalType: signaling.SignalOffer, FromUserID: "b-guest"})
	waitUntil(t, func() bool {
		tr.mesh.mu.Lock()
		defer tr.mesh.mu.Unlock()
		return len(tr.mesh.signals) == 1
	}, "offer never reached the mesh")

	// Own relayed broadcasts are ignored.
	tr.room.Deliver(&signaling.WebRTCSignal{SignalType: signaling.SignalOffer, FromUserID: "a-self"})
	tr.room.SendChat("sync")
	waitUntil(t, func() bool { return len(tr.ch.sentWith(signaling.ActionChat, "")) == 1 }, "chat never sent")

	tr.mesh.mu.Lock()
	defer tr.mesh.mu.Unlock()
	if len(tr.mesh.signals) != 1 {
		t.Errorf("mesh saw %d signals, want 1", len(tr.mesh.signals))
	}
}

func TestUserLeftTearsDownPeer(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.Deliver(&signaling.UserJoined{UserID: "b-guest", Username: "bob", Role: RoleGuest})
	tr.latest(t, func(s Snapshot) bool { return len(s.Participants) == 1 }, "join never applied")

	tr.room.Deliver(&signaling.UserLeft{UserID: "b-guest", Username: "bob", ViewerCount: 1})
	tr.latest(t, func(s Snapshot) bool { return len(s.Participants) == 0 }, "leave never applied")

	if got := tr.mesh.removedPeers(); len(got) != 1 || got[0] != "b-guest" {
		t.Errorf("mesh removals = %v, want [b-guest]", got)
	}
}

func TestKickedExitsWithReason(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleGuest, time.Hour)

	tr.room.Deliver(&signaling.Kicked{By: "hostid", Reason: "spam"})

	select {
	case err := <-tr.runErr:
		if !errors.Is(err, ErrKicked) {
			t.Errorf("Run returned %v, want ErrKicked", err)
		}
	case <-time.After(time.Second):
		t.Fatal("room loop did not exit after kick")
	}

	tr.mesh.mu.Lock()
	cleanups := tr.mesh.cleanups
	tr.mesh.mu.Unlock()
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleanups)
	}
	tr.ch.mu.Lock()
	disconnects := tr.ch.disconnects
	tr.ch.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnect ran %d times, want 1", disconnects)
	}
	tr.runErr <- nil // satisfy the cleanup wait
}

func TestSessionEndedExits(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleViewer, time.Hour)

	tr.room.Deliver(&signaling.SessionEnded{Message: "over"})

	select {
	case err := <-tr.runErr:
		if !errors.Is(err, ErrSessionEnded) {
			t.Errorf("Run returned %v, want ErrSessionEnded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("room loop did not exit after session end")
	}
	tr.runErr <- nil
}

func TestForceMuteAppliesAndReports(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleGuest, time.Hour)

	tr.room.Deliver(&signaling.ForceMuteAudio{By: "hostid"})
	snap := tr.latest(t, func(s Snapshot) bool { return !s.AudioEnabled }, "mute never applied")
	if snap.VideoEnabled != true {
		t.Error("video flag changed by an audio mute")
	}

	tr.mesh.mu.Lock()
	audio := append([]bool(nil), tr.mesh.audio...)
	tr.mesh.mu.Unlock()
	if len(audio) != 1 || audio[0] {
		t.Errorf("mesh audio toggles = %v, want [false]", audio)
	}

	status := tr.ch.sentWith(signaling.ActionUpdateMediaStatus, "")
	if len(status) != 1 || status[0].AudioEnabled == nil || *status[0].AudioEnabled {
		t.Errorf("media status report = %+v, want audio_enabled=false", status)
	}

	// A second force mute is a no-op.
	tr.room.Deliver(&signaling.ForceMuteAudio{By: "hostid"})
	tr.room.SendChat("sync")
	waitUntil(t, func() bool { return len(tr.ch.sentWith(signaling.ActionChat, "")) == 1 }, "chat never sent")
	if got := len(tr.ch.sentWith(signaling.ActionUpdateMediaStatus, "")); got != 1 {
		t.Errorf("repeated force mute sent %d status updates, want 1", got)
	}
}

func TestGuestRequestFlowForHost(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.Deliver(&signaling.GuestRequest{UserID: "u1", Username: "ann"})
	tr.room.Deliver(&signaling.GuestRequest{UserID: "u1", Username: "ann"})
	snap := tr.latest(t, func(s Snapshot) bool { return len(s.GuestRequests) > 0 }, "request never recorded")
	if len(snap.GuestRequests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(snap.GuestRequests))
	}

	tr.room.RespondGuest("u1", true)
	tr.latest(t, func(s Snapshot) bool { return len(s.GuestRequests) == 0 }, "request survived response")

	responses := tr.ch.sentWith(signaling.ActionRespondGuest, "")
	if len(responses) != 1 || responses[0].TargetUserID != "u1" || responses[0].Approved == nil || !*responses[0].Approved {
		t.Errorf("guest response = %+v", responses)
	}
}

func TestGuestApprovalPromotesAndAnnounces(t *testing.T) {
	tr := startTestRoom(t, "z-self", RoleViewer, time.Hour)

	tr.room.Deliver(&signaling.CurrentParticipants{
		Participants: []signaling.Participant{{UserID: "a-host", Username: "ann", Role: RoleHost}},
	})
	tr.latest(t, func(s Snapshot) bool { return len(s.Participants) == 1 }, "roster never applied")

	tr.room.Deliver(&signaling.GuestApproved{ApprovedBy: "a-host"})
	snap := tr.latest(t, func(s Snapshot) bool { return s.SelfRole == RoleGuest }, "promotion never applied")
	if !snap.MediaReady {
		t.Error("media not announced ready after promotion")
	}

	waitUntil(t, func() bool {
		return len(tr.ch.sentWith(signaling.ActionWebRTCSignal, signaling.SignalReady)) >= 1
	}, "no ready broadcast after promotion")
	// Self ID sorts above the host's, so the host offers to us, not the
	// other way round.
	time.Sleep(20 * time.Millisecond)
	if got := tr.mesh.offered(); len(got) != 0 {
		t.Errorf("offered to %v, want none", got)
	}
}

func TestToggleAudioRoundTrip(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.ToggleAudio()
	snap := tr.latest(t, func(s Snapshot) bool { return !s.AudioEnabled }, "toggle never applied")
	if snap.AudioEnabled {
		t.Error("audio still enabled after toggle")
	}

	tr.room.ToggleAudio()
	tr.latest(t, func(s Snapshot) bool { return s.AudioEnabled }, "second toggle never applied")

	status := tr.ch.sentWith(signaling.ActionUpdateMediaStatus, "")
	if len(status) != 2 {
		t.Fatalf("sent %d status updates, want 2", len(status))
	}
}

func TestChatEchoAppends(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleViewer, time.Hour)

	tr.room.Deliver(&signaling.ChatMessage{UserID: "u1", Username: "ann", Message: "hi", Timestamp: "t1"})
	snap := tr.latest(t, func(s Snapshot) bool { return len(s.Chat) == 1 }, "chat never applied")
	if snap.Chat[0].Message != "hi" || snap.Chat[0].Username != "ann" {
		t.Errorf("chat entry = %+v", snap.Chat[0])
	}
}

// writeShareClip builds a one-frame IVF file for screen share tests.
func writeShareClip(t *testing.T) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], 1)

	frame := []byte{0xAA}
	var fh [12]byte
	binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
	buf := append(header, fh[:]...)
	buf = append(buf, frame...)

	path := filepath.Join(t.TempDir(), "share.ivf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func TestScreenShareFlagFollowsMesh(t *testing.T) {
	tr := startTestRoom(t, "a-self", RoleHost, time.Hour)

	tr.room.StartScreenShare(writeShareClip(t))
	tr.latest(t, func(s Snapshot) bool { return s.ScreenSharing }, "share flag never set")

	// The mesh reverts on its own when the screen source runs out and
	// tells the loop to reconcile the displayed flag.
	tr.mesh.StopScreenShare()
	tr.room.SyncScreenShare()
	tr.latest(t, func(s Snapshot) bool { return !s.ScreenSharing }, "share flag stuck after the mesh reverted")
}

func TestConnectFailureSurfaces(t *testing.T) {
	ch := &fakeChannel{connectErr: errors.New("dial refused")}
	mesh := &fakeMesh{}
	cfg := &config.Config{OfferFallback: time.Second, FailureGrace: time.Second}
	st := NewState("sess1", "t", "voice", "h", "me", "self", RoleViewer)
	rm := New(cfg, "tok", st, ch, mesh, nil, nil)

	err := rm.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when the channel cannot connect")
	}
	var rerr *RoomError
	if !errors.As(err, &rerr) {
		t.Errorf("error type = %T, want *RoomError", err)
	}
	mesh.mu.Lock()
	defer mesh.mu.Unlock()
	if mesh.cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", mesh.cleanups)
	}
}
