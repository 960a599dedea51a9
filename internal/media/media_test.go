package media

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// scriptSource emits a fixed number of short samples, then io.EOF.
type scriptSource struct {
	kind    Kind
	samples int

	mu     sync.Mutex
	reads  int
	closes int
}

func (s *scriptSource) Kind() Kind { return s.kind }

func (s *scriptSource) Codec() webrtc.RTPCodecCapability {
	if s.kind == KindVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s *scriptSource) Read() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reads >= s.samples {
		return pionmedia.Sample{}, io.EOF
	}
	s.reads++
	return pionmedia.Sample{Data: []byte{0x01}, Duration: time.Millisecond}, nil
}

func (s *scriptSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *scriptSource) stats() (reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.closes
}

func waitCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTrackFiresEndedOnSourceEOF(t *testing.T) {
	src := &scriptSource{kind: KindAudio, samples: 3}
	track, err := NewTrack(src)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	defer track.Close()

	var endedMu sync.Mutex
	ended := 0
	track.OnEnded(func() {
		endedMu.Lock()
		ended++
		endedMu.Unlock()
	})

	waitCond(t, func() bool {
		endedMu.Lock()
		defer endedMu.Unlock()
		return ended > 0
	}, "ended callback never fired")

	reads, _ := src.stats()
	if reads != 3 {
		t.Errorf("source read %d times, want 3", reads)
	}
	endedMu.Lock()
	defer endedMu.Unlock()
	if ended != 1 {
		t.Errorf("ended fired %d times, want 1", ended)
	}
}

func TestOnEndedAfterSourceExhausted(t *testing.T) {
	src := &scriptSource{kind: KindVideo, samples: 0}
	track, err := NewTrack(src)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	defer track.Close()

	first := make(chan struct{})
	track.OnEnded(func() { close(first) })
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("end signal never fired")
	}

	// A callback registered after the source already ended runs before
	// OnEnded returns, so a late listener cannot miss the signal.
	fired := false
	track.OnEnded(func() { fired = true })
	if !fired {
		t.Error("late registration never saw the end signal")
	}
}

func TestTrackKeepsPacingWhileDisabled(t *testing.T) {
	src := &scriptSource{kind: KindVideo, samples: 5}
	track, err := NewTrack(src)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	defer track.Close()

	track.SetEnabled(false)
	if track.Enabled() {
		t.Fatal("track still enabled after SetEnabled(false)")
	}

	// The pump drains the source even when the track is muted, so
	// re-enabling resumes at the live position.
	waitCond(t, func() bool { reads, _ := src.stats(); return reads == 5 }, "pump stalled while disabled")
}

func TestTrackCloseIdempotent(t *testing.T) {
	src := &scriptSource{kind: KindAudio, samples: 1000}
	track, err := NewTrack(src)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}

	track.Close()
	track.Close()

	_, closes := src.stats()
	if closes != 1 {
		t.Errorf("source closed %d times, want 1", closes)
	}
}

func TestTrackIdentity(t *testing.T) {
	src := &scriptSource{kind: KindVideo, samples: 1}
	track, err := NewTrack(src)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	defer track.Close()

	if track.Kind() != KindVideo {
		t.Errorf("kind = %q, want video", track.Kind())
	}
	if track.ID() == "" {
		t.Error("empty track ID")
	}
	if track.Local() == nil {
		t.Error("nil local track")
	}
}

func TestLocalMediaWithoutSources(t *testing.T) {
	m, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if got := m.Tracks(); len(got) != 0 {
		t.Errorf("got %d tracks, want 0", len(got))
	}
	if m.Audio() != nil || m.Video() != nil {
		t.Error("phantom tracks on a media-less handle")
	}
	// Toggles on missing tracks must not panic.
	m.SetAudioEnabled(false)
	m.SetVideoEnabled(false)
}

func TestLocalMediaToggles(t *testing.T) {
	m, err := New(NewSilenceSource(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	tracks := m.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != KindAudio {
		t.Fatalf("tracks = %v", tracks)
	}

	m.SetAudioEnabled(false)
	if m.Audio().Enabled() {
		t.Error("audio still enabled")
	}
	m.SetAudioEnabled(true)
	if !m.Audio().Enabled() {
		t.Error("audio still disabled")
	}
}

func TestSilenceSourceRead(t *testing.T) {
	src := NewSilenceSource()
	defer src.Close()

	if src.Kind() != KindAudio {
		t.Errorf("kind = %q, want audio", src.Kind())
	}
	sample, err := src.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(sample.Data) == 0 {
		t.Error("empty silence frame")
	}
	if sample.Duration != 20*time.Millisecond {
		t.Errorf("duration = %v, want 20ms", sample.Duration)
	}

	src.Close()
	if _, err := src.Read(); err != io.EOF {
		t.Errorf("Read after Close = %v, want io.EOF", err)
	}
	// Double close must not panic.
	src.Close()
}

// writeIVF builds a minimal valid IVF file with the given frame payloads,
// one timestamp tick apart at 30fps.
func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()

	header := make([]byte, ivfHeaderSize)
	copy(header[0:4], ivfMagic)
	binary.LittleEndian.PutUint16(header[6:8], ivfHeaderSize)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 30) // timebase denominator
	binary.LittleEndian.PutUint32(header[20:24], 1)  // timebase numerator
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	buf := append([]byte(nil), header...)
	for i, frame := range frames {
		var fh [ivfFrameHeaderSize]byte
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		buf = append(buf, fh[:]...)
		buf = append(buf, frame...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write ivf: %v", err)
	}
	return path
}

func TestIVFSourceReadsFrames(t *testing.T) {
	path := writeIVF(t, []byte{0xAA, 0xBB}, []byte{0xCC, 0xDD, 0xEE})

	src, err := NewIVFSource(path, false)
	if err != nil {
		t.Fatalf("NewIVFSource: %v", err)
	}
	defer src.Close()

	if src.Kind() != KindVideo {
		t.Errorf("kind = %q, want video", src.Kind())
	}
	first, err := src.Read()
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if string(first.Data) != "\xAA\xBB" {
		t.Errorf("first frame = % x", first.Data)
	}
	want := time.Second / 30
	if first.Duration != want {
		t.Errorf("first duration = %v, want %v", first.Duration, want)
	}

	second, err := src.Read()
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if len(second.Data) != 3 {
		t.Errorf("second frame = % x", second.Data)
	}

	if _, err := src.Read(); err != io.EOF {
		t.Errorf("Read past end = %v, want io.EOF", err)
	}
}

func TestIVFSourceLoops(t *testing.T) {
	path := writeIVF(t, []byte{0x01}, []byte{0x02})

	src, err := NewIVFSource(path, true)
	if err != nil {
		t.Fatalf("NewIVFSource: %v", err)
	}
	defer src.Close()

	var got []byte
	for i := 0; i < 5; i++ {
		sample, err := src.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		got = append(got, sample.Data...)
	}
	if string(got) != "\x01\x02\x01\x02\x01" {
		t.Errorf("looped frames = % x", got)
	}
}

func TestIVFSourceRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.ivf")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewIVFSource(path, false); err == nil {
		t.Fatal("expected an error for a non-IVF file")
	}
}

func TestIVFSourceRejectsMissingFile(t *testing.T) {
	if _, err := NewIVFSource(filepath.Join(t.TempDir(), "absent.ivf"), false); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
