package signaling

// Outbound action constants. The set is closed: every message the client
// can send is built by one of the constructors below.
const (
	ActionUpdateMediaStatus = "update_media_status"
	ActionRequestGuest      = "request_guest"
	ActionRespondGuest      = "respond_guest"
	ActionParticipantAction = "participant_action"
	ActionChat              = "chat"
	ActionReaction          = "reaction"
	ActionWebRTCSignal      = "webrtc_signal"
	ActionPing              = "ping"
)

// Moderation action types for ActionParticipantAction.
const (
	ParticipantMuteAudio = "mute_audio"
	ParticipantMuteVideo = "mute_video"
	ParticipantKick      = "kick"
	ParticipantPromote   = "promote"
)

// SignalType tags the payload of a relayed webrtc_signal message.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice_candidate"

	// SignalReady announces that this client finished local media setup
	// and can answer offers. Broadcast to "all" through the relay; peers
	// that never send it are offered to after a fallback delay.
	SignalReady SignalType = "ready"
)

// BroadcastTarget addresses a webrtc_signal to every peer in the room.
const BroadcastTarget = "all"

// Message is an outbound frame. Fields are a union over all actions;
// each constructor fills only the fields its action defines.
type Message struct {
	Action       string     `json:"action"`
	AudioEnabled *bool      `json:"audio_enabled,omitempty"`
	VideoEnabled *bool      `json:"video_enabled,omitempty"`
	TargetUserID string     `json:"target_user_id,omitempty"`
	Approved     *bool      `json:"approved,omitempty"`
	ActionType   string     `json:"action_type,omitempty"`
	NewRole      string     `json:"new_role,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Message      string     `json:"message,omitempty"`
	Reaction     string     `json:"reaction,omitempty"`
	ToUserID     string     `json:"to_user_id,omitempty"`
	SignalType   SignalType `json:"signal_type,omitempty"`
	SignalData   any        `json:"signal_data,omitempty"`
}

// NewMediaStatus informs the room of a local flag change. Nil leaves the
// corresponding flag untouched on the server.
func NewMediaStatus(audio, video *bool) Message {
	return Message{Action: ActionUpdateMediaStatus, AudioEnabled: audio, VideoEnabled: video}
}

// NewGuestRequest asks the host for guest promotion.
func NewGuestRequest() Message {
	return Message{Action: ActionRequestGuest}
}

// NewGuestResponse carries the host's decision on a pending request.
func NewGuestResponse(targetUserID string, approved bool) Message {
	return Message{Action: ActionRespondGuest, TargetUserID: targetUserID, Approved: &approved}
}

// NewParticipantAction is a moderation action against one participant.
func NewParticipantAction(targetUserID, actionType, newRole, reason string) Message {
	return Message{
		Action:       ActionParticipantAction,
		TargetUserID: targetUserID,
		ActionType:   actionType,
		NewRole:      newRole,
		Reason:       reason,
	}
}

// NewChat broadcasts chat text to the room.
func NewChat(text string) Message {
	return Message{Action: ActionChat, Message: text}
}

// NewReaction broadcasts an ephemeral reaction glyph.
func NewReaction(glyph string) Message {
	return Message{Action: ActionReaction, Reaction: glyph}
}

// NewSignal relays a handshake payload to one peer (or to every peer when
// toUserID is BroadcastTarget).
func NewSignal(toUserID string, kind SignalType, data any) Message {
	return Message{Action: ActionWebRTCSignal, ToUserID: toUserID, SignalType: kind, SignalData: data}
}

func newPing() Message {
	return Message{Action: ActionPing}
}
