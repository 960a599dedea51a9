// Package media models the local capture handle the mesh layer publishes
// from: encoded sample sources pumped into pion local tracks. Sources are
// an opaque capability behind a narrow interface, so a capture device, a
// looped file, and a test generator are interchangeable.
package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Kind distinguishes audio and video tracks.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var (
	ErrNoSource    = errors.New("no media source available")
	ErrMediaClosed = errors.New("media handle closed")
)

// Source produces encoded media samples. Read blocks until the next
// sample is due and returns io.EOF when the source is exhausted.
type Source interface {
	Kind() Kind
	Codec() webrtc.RTPCodecCapability
	Read() (pionmedia.Sample, error)
	Close() error
}

// Track couples a source with a pion local track and an enabled flag.
// Disabling a track stops sample writes in place without renegotiation;
// the pump keeps pacing so re-enabling resumes immediately.
type Track struct {
	kind    Kind
	local   *webrtc.TrackLocalStaticSample
	source  Source
	enabled atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}

	endedMu sync.Mutex
	ended   bool
	onEnded func()
}

// NewTrack builds a local track for source and starts its sample pump.
func NewTrack(source Source) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		source.Codec(),
		fmt.Sprintf("%s-%s", source.Kind(), uuid.NewString()),
		"clipcast-local",
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", source.Kind(), err)
	}

	t := &Track{
		kind:   source.Kind(),
		local:  local,
		source: source,
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *Track) Kind() Kind { return t.kind }

// ID is the local track identifier, stable for the track's lifetime.
func (t *Track) ID() string { return t.local.ID() }

// Local exposes the underlying pion track for attaching to a peer
// connection or replacing into an existing sender.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutates the enabled flag in place. Every attached peer
// connection observes the change at the next sample boundary.
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// OnEnded registers a callback for the source's intrinsic end signal
// (a screen capture stopped from outside, a non-looped file running out).
// If the source already ended, fn runs before OnEnded returns, so a
// registration racing the final sample is never lost.
func (t *Track) OnEnded(fn func()) {
	t.endedMu.Lock()
	t.onEnded = fn
	fireNow := t.ended && fn != nil
	t.endedMu.Unlock()
	if fireNow {
		fn()
	}
}

// Close stops the pump and releases the source. Idempotent.
func (t *Track) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.source.Close()
	})
}

func (t *Track) pump() {
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		sample, err := t.source.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("media source read failed", "kind", t.kind, "err", err)
			}
			t.fireEnded()
			return
		}

		if t.enabled.Load() {
			if err := t.local.WriteSample(sample); err != nil {
				slog.Debug("write sample", "kind", t.kind, "err", err)
			}
		}
		if sample.Duration > 0 {
			time.Sleep(sample.Duration)
		}
	}
}

func (t *Track) fireEnded() {
	t.endedMu.Lock()
	t.ended = true
	fn := t.onEnded
	t.endedMu.Unlock()
	if fn != nil {
		fn()
	}
}

// LocalMedia is the local capture handle: at most one audio and one video
// track, shared read-only by every peer connection that attaches them.
type LocalMedia struct {
	mu     sync.Mutex
	audio  *Track
	video  *Track
	closed bool
}

// New builds the capture handle. Either source may be nil; a room with
// neither runs in media-less, receive-only mode.
func New(audioSource, videoSource Source) (*LocalMedia, error) {
	m := &LocalMedia{}
	if audioSource != nil {
		t, err := NewTrack(audioSource)
		if err != nil {
			return nil, err
		}
		m.audio = t
	}
	if videoSource != nil {
		t, err := NewTrack(videoSource)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.video = t
	}
	return m, nil
}

// Tracks returns the live tracks, audio first.
func (m *LocalMedia) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Track
	if m.audio != nil {
		out = append(out, m.audio)
	}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

// Audio returns the audio track, or nil.
func (m *LocalMedia) Audio() *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

// Video returns the camera track, or nil.
func (m *LocalMedia) Video() *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video
}

// SetAudioEnabled flips the enabled flag on every local audio track.
func (m *LocalMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio != nil {
		m.audio.SetEnabled(enabled)
	}
}

// SetVideoEnabled flips the enabled flag on every local video track.
func (m *LocalMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video != nil {
		m.video.SetEnabled(enabled)
	}
}

// Close stops all pumps and releases sources. Idempotent.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.audio != nil {
		m.audio.Close()
	}
	if m.video != nil {
		m.video.Close()
	}
}
