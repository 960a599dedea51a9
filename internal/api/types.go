package api

import "time"

// Session type values.
const (
	SessionVoice  = "voice"
	SessionCamera = "camera"
	SessionStudio = "studio"
)

// Session status values.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Session is one live session record.
type Session struct {
	ID              string     `json:"id"`
	HostID          string     `json:"host_id"`
	HostUsername    string     `json:"host_username"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	SessionType     string     `json:"session_type"`
	Status          string     `json:"status"`
	RoomName        string     `json:"room_name,omitempty"`
	AccessToken     string     `json:"access_token,omitempty"`
	ViewerCount     int        `json:"viewer_count"`
	GuestCount      int        `json:"guest_count"`
	MaxParticipants int        `json:"max_participants"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// SessionSummary is the discovery-list shape of a session.
type SessionSummary struct {
	ID           string     `json:"id"`
	HostID       string     `json:"host_id"`
	HostUsername string     `json:"host_username"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	SessionType  string     `json:"session_type"`
	ViewerCount  int        `json:"viewer_count"`
	GuestCount   int        `json:"guest_count"`
	MaxGuests    int        `json:"max_guests"`
	AllowGuests  bool       `json:"allow_guests"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// StartSessionRequest creates a new session.
type StartSessionRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	SessionType     string `json:"session_type"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	AllowGuests     bool   `json:"allow_guests"`
	RequireApproval bool   `json:"require_approval"`
	MaxGuests       int    `json:"max_guests,omitempty"`
	EnableChat      bool   `json:"enable_chat"`
}

// JoinResponse is what the backend hands a joining viewer.
type JoinResponse struct {
	SessionID       string       `json:"session_id"`
	RoomName        string       `json:"room_name"`
	AccessToken     string       `json:"access_token"`
	Role            string       `json:"role"`
	CanRequestGuest bool         `json:"can_request_guest"`
	WebRTCConfig    WebRTCConfig `json:"webrtc_config"`
}

// WebRTCConfig is the server-suggested transport setup. Local ICE
// configuration takes precedence when set.
type WebRTCConfig struct {
	ServerURL        string      `json:"server_url"`
	RoomName         string      `json:"room_name"`
	ParticipantToken string      `json:"participant_token"`
	ICEServers       []ICEServer `json:"ice_servers"`
}

type ICEServer struct {
	URLs string `json:"urls"`
}

// ParticipantInfo is one active member as reported over REST.
type ParticipantInfo struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	AudioEnabled  bool      `json:"audio_enabled"`
	VideoEnabled  bool      `json:"video_enabled"`
	ScreenSharing bool      `json:"screen_sharing"`
	JoinedAt      time.Time `json:"joined_at"`
}

// GuestRequestInfo is one pending or resolved guest request.
type GuestRequestInfo struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	RequestType string     `json:"request_type"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// UserProfile is the authenticated user's identity.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// LoginResponse carries the bearer token and the user it belongs to.
type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        UserProfile `json:"user"`
}
