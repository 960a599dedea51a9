package mesh

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/clipcast/clipcast-cli/internal/config"
	"github.com/clipcast/clipcast-cli/internal/media"
)

// RemoteTrack is the remote media handle surfaced per participant. Track
// is the concrete pion handle; fakes used in tests leave it nil.
type RemoteTrack struct {
	Kind     media.Kind
	ID       string
	StreamID string
	Track    *webrtc.TrackRemote
}

// TrackSender is the outgoing side of one attached local track.
// *webrtc.RTPSender satisfies it.
type TrackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// RTCPeer is the slice of a peer connection the coordinator drives. The
// native connection is an opaque transport capability behind this
// interface; tests substitute an in-memory implementation.
type RTCPeer interface {
	AddTrack(t webrtc.TrackLocal) (TrackSender, error)
	AddRecvTransceiver(kind media.Kind) error

	// CreateOffer negotiates a local offer requesting both directions and
	// commits it as the local description before returning it.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer generates and commits a local answer to a previously
	// applied remote offer.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteTrack))

	Close() error
}

// PeerFactory allocates a fresh peer connection.
type PeerFactory func() (RTCPeer, error)

// NewPeerFactory builds the production factory from the configured ICE
// servers, forcing the relay policy when requested.
func NewPeerFactory(cfg *config.Config) PeerFactory {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}
	if turn := cfg.GetTURNServers(); turn != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay && cfg.GetTURNServers() != nil {
		policy = webrtc.ICETransportPolicyRelay
	}

	conf := webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}

	return func() (RTCPeer, error) {
		pc, err := webrtc.NewPeerConnection(conf)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return &pionPeer{pc: pc}, nil
	}
}

// pionPeer adapts *webrtc.PeerConnection to RTCPeer.
type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(t webrtc.TrackLocal) (TrackSender, error) {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (p *pionPeer) AddRecvTransceiver(kind media.Kind) error {
	codecType := webrtc.RTPCodecTypeAudio
	if kind == media.KindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	_, err := p.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.KindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.KindVideo
		}
		fn(RemoteTrack{
			Kind:     kind,
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Track:    track,
		})
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
