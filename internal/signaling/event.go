package signaling

import (
	"encoding/json"
	"fmt"
)

// Inbound type tags.
const (
	TypeCurrentParticipants     = "current_participants"
	TypeUserJoined              = "user_joined"
	TypeUserLeft                = "user_left"
	TypeChatMessage             = "chat_message"
	TypeReaction                = "reaction"
	TypeGuestRequest            = "guest_request"
	TypeGuestApproved           = "guest_approved"
	TypeGuestRejected           = "guest_rejected"
	TypeGuestJoined             = "guest_joined"
	TypeForceMuteAudio          = "force_mute_audio"
	TypeForceMuteVideo          = "force_mute_video"
	TypeKicked                  = "kicked"
	TypePromoted                = "promoted"
	TypeParticipantMediaChanged = "participant_media_changed"
	TypeParticipantRoleChanged  = "participant_role_changed"
	TypeWebRTCSignal            = "webrtc_signal"
	TypeSessionEnded            = "session_ended"
	TypePong                    = "pong"
)

// Event is one inbound frame, decoded to its concrete type. Frames are
// consumed once and discarded; nothing here is persisted.
type Event interface {
	Type() string
}

// Participant is the wire shape of a room member.
type Participant struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

type CurrentParticipants struct {
	Participants []Participant `json:"participants"`
	ViewerCount  int           `json:"viewer_count"`
}

type UserJoined struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ViewerCount int    `json:"viewer_count"`
}

type UserLeft struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	ViewerCount int    `json:"viewer_count"`
}

type ChatMessage struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Reaction struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Reaction string `json:"reaction"`
}

type GuestRequest struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type GuestApproved struct {
	ApprovedBy string `json:"approved_by"`
}

type GuestRejected struct {
	RejectedBy string `json:"rejected_by"`
}

type GuestJoined struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type ForceMuteAudio struct {
	By string `json:"by"`
}

type ForceMuteVideo struct {
	By string `json:"by"`
}

type Kicked struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

type Promoted struct {
	NewRole string `json:"new_role"`
	By      string `json:"by"`
}

// ParticipantMediaChanged updates another participant's media flags. A
// nil flag means unchanged.
type ParticipantMediaChanged struct {
	UserID       string `json:"user_id"`
	AudioEnabled *bool  `json:"audio_enabled"`
	VideoEnabled *bool  `json:"video_enabled"`
}

type ParticipantRoleChanged struct {
	UserID  string `json:"user_id"`
	NewRole string `json:"new_role"`
}

// WebRTCSignal relays one peer's handshake payload. SignalData stays raw;
// the mesh layer decodes it according to SignalType.
type WebRTCSignal struct {
	SignalType SignalType      `json:"signal_type"`
	FromUserID string          `json:"from_user_id"`
	SignalData json.RawMessage `json:"signal_data"`
}

type SessionEnded struct {
	Message string `json:"message"`
}

// Keepalive is the liveness frame. The Channel swallows it; listeners
// never observe one.
type Keepalive struct{}

// Unknown wraps a frame whose type tag is not in the closed set above.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (CurrentParticipants) Type() string     { return TypeCurrentParticipants }
func (UserJoined) Type() string              { return TypeUserJoined }
func (UserLeft) Type() string                { return TypeUserLeft }
func (ChatMessage) Type() string             { return TypeChatMessage }
func (Reaction) Type() string                { return TypeReaction }
func (GuestRequest) Type() string            { return TypeGuestRequest }
func (GuestApproved) Type() string           { return TypeGuestApproved }
func (GuestRejected) Type() string           { return TypeGuestRejected }
func (GuestJoined) Type() string             { return TypeGuestJoined }
func (ForceMuteAudio) Type() string          { return TypeForceMuteAudio }
func (ForceMuteVideo) Type() string          { return TypeForceMuteVideo }
func (Kicked) Type() string                  { return TypeKicked }
func (Promoted) Type() string                { return TypePromoted }
func (ParticipantMediaChanged) Type() string { return TypeParticipantMediaChanged }
func (ParticipantRoleChanged) Type() string  { return TypeParticipantRoleChanged }
func (WebRTCSignal) Type() string            { return TypeWebRTCSignal }
func (SessionEnded) Type() string            { return TypeSessionEnded }
func (Keepalive) Type() string               { return TypePong }
func (u Unknown) Type() string               { return u.Tag }

// ParseEvent decodes one inbound text frame into its typed event.
// Unrecognized tags come back as Unknown rather than an error; only
// malformed JSON fails.
func ParseEvent(frame []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	decode := func(v Event) (Event, error) {
		if err := json.Unmarshal(frame, v); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		return v, nil
	}

	switch envelope.Type {
	case TypeCurrentParticipants:
		return decode(&CurrentParticipants{})
	case TypeUserJoined:
		return decode(&UserJoined{})
	case TypeUserLeft:
		return decode(&UserLeft{})
	case TypeChatMessage:
		return decode(&ChatMessage{})
	case TypeReaction:
		return decode(&Reaction{})
	case TypeGuestRequest:
		return decode(&GuestRequest{})
	case TypeGuestApproved:
		return decode(&GuestApproved{})
	case TypeGuestRejected:
		return decode(&GuestRejected{})
	case TypeGuestJoined:
		return decode(&GuestJoined{})
	case TypeForceMuteAudio:
		return decode(&ForceMuteAudio{})
	case TypeForceMuteVideo:
		return decode(&ForceMuteVideo{})
	case TypeKicked:
		return decode(&Kicked{})
	case TypePromoted:
		return decode(&Promoted{})
	case TypeParticipantMediaChanged:
		return decode(&ParticipantMediaChanged{})
	case TypeParticipantRoleChanged:
		return decode(&ParticipantRoleChanged{})
	case TypeWebRTCSignal:
		return decode(&WebRTCSignal{})
	case TypeSessionEnded:
		return decode(&SessionEnded{})
	case TypePong:
		return Keepalive{}, nil
	default:
		return Unknown{Tag: envelope.Type, Raw: append(json.RawMessage(nil), frame...)}, nil
	}
}
