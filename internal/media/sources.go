package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a canonical 20ms silent Opus frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

const opusFrameDuration = 20 * time.Millisecond

// SilenceSource is the stand-in microphone: an endless stream of silent
// Opus frames. It keeps the audio transceiver alive on machines without
// a capture device.
type SilenceSource struct {
	closed chan struct{}
}

func NewSilenceSource() *SilenceSource {
	return &SilenceSource{closed: make(chan struct{})}
}

func (s *SilenceSource) Kind() Kind { return KindAudio }

func (s *SilenceSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}
}

func (s *SilenceSource) Read() (pionmedia.Sample, error) {
	select {
	case <-s.closed:
		return pionmedia.Sample{}, io.EOF
	default:
	}
	return pionmedia.Sample{
		Data:     append([]byte(nil), opusSilence...),
		Duration: opusFrameDuration,
	}, nil
}

func (s *SilenceSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
	ivfMagic           = "DKIF"
)

// IVFSource plays VP8 frames from an IVF container, the camera and
// screen stand-in for a headless client. With loop set the file repeats
// forever; otherwise Read returns io.EOF at the end, which is the
// track's intrinsic "source stopped" signal.
type IVFSource struct {
	file   *os.File
	loop   bool
	kind   Kind
	num    uint32
	den    uint32
	lastTS int64
}

// NewIVFSource opens path and validates the container header.
func NewIVFSource(path string, loop bool) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video source: %w", err)
	}
	src := &IVFSource{file: f, loop: loop, kind: KindVideo}
	if err := src.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func (s *IVFSource) readHeader() error {
	header := make([]byte, ivfHeaderSize)
	if _, err := io.ReadFull(s.file, header); err != nil {
		return fmt.Errorf("read IVF header: %w", err)
	}
	if string(header[:4]) != ivfMagic {
		return fmt.Errorf("not an IVF file: bad magic %q", header[:4])
	}
	s.den = binary.LittleEndian.Uint32(header[16:20])
	s.num = binary.LittleEndian.Uint32(header[20:24])
	if s.den == 0 {
		s.den = 30
		s.num = 1
	}
	s.lastTS = -1
	return nil
}

func (s *IVFSource) Kind() Kind { return s.kind }

func (s *IVFSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
}

func (s *IVFSource) frameDuration(ts int64) time.Duration {
	ticks := int64(1)
	if s.lastTS >= 0 && ts > s.lastTS {
		ticks = ts - s.lastTS
	}
	return time.Duration(ticks) * time.Duration(s.num) * time.Second / time.Duration(s.den)
}

func (s *IVFSource) Read() (pionmedia.Sample, error) {
	var frameHeader [ivfFrameHeaderSize]byte
	if _, err := io.ReadFull(s.file, frameHeader[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if !s.loop {
				return pionmedia.Sample{}, io.EOF
			}
			if _, err := s.file.Seek(0, io.SeekStart); err != nil {
				return pionmedia.Sample{}, err
			}
			if err := s.readHeader(); err != nil {
				return pionmedia.Sample{}, err
			}
			return s.Read()
		}
		return pionmedia.Sample{}, err
	}

	size := binary.LittleEndian.Uint32(frameHeader[0:4])
	ts := int64(binary.LittleEndian.Uint64(frameHeader[4:12]))

	payload := make([]byte, size)
	if _, err := io.ReadFull(s.file, payload); err != nil {
		return pionmedia.Sample{}, fmt.Errorf("read IVF frame: %w", err)
	}

	duration := s.frameDuration(ts)
	s.lastTS = ts
	return pionmedia.Sample{Data: payload, Duration: duration}, nil
}

func (s *IVFSource) Close() error {
	return s.file.Close()
}
