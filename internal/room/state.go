package room

import (
	"time"

	"github.com/clipcast/clipcast-cli/internal/signaling"
)

// Participant roles.
const (
	RoleViewer = "viewer"
	RoleGuest  = "guest"
	RoleCohost = "cohost"
	RoleHost   = "host"
)

// IsPublisher reports whether a role carries media in the mesh. Plain
// viewers never get a direct peer connection.
func IsPublisher(role string) bool {
	switch role {
	case RoleHost, RoleCohost, RoleGuest:
		return true
	default:
		return false
	}
}

// Participant is one room member as tracked by the orchestration layer.
type Participant struct {
	UserID       string
	Username     string
	Role         string
	AudioEnabled bool
	VideoEnabled bool
	JoinedAt     time.Time
}

// GuestRequest is one outstanding request to join as guest.
type GuestRequest struct {
	UserID      string
	Username    string
	RequestedAt time.Time
}

// ChatEntry is one chat line kept for display.
type ChatEntry struct {
	ID       string
	UserID   string
	Username string
	Message  string
	At       time.Time
}

// NoticeLevel classifies user-visible notices.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
)

// Notice is a user-visible event (join, moderation, rejection). Notices
// are how application-level rejections surface; they are never errors.
type Notice struct {
	Level NoticeLevel
	Text  string
	At    time.Time
}

const chatBacklog = 200

// State is the explicit room-state object owned by the Room loop. It is
// not safe for concurrent use; the UI reads immutable snapshots.
type State struct {
	SessionID   string
	Title       string
	SessionType string
	HostID      string

	SelfID   string
	SelfName string
	SelfRole string

	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	MediaReady    bool
	Connected     bool
	ViewerCount   int

	participants []*Participant
	byID         map[string]*Participant
	requests     []*GuestRequest
	chat         []ChatEntry
}

func NewState(sessionID, title, sessionType, hostID, selfID, selfName, selfRole string) *State {
	return &State{
		SessionID:    sessionID,
		Title:        title,
		SessionType:  sessionType,
		HostID:       hostID,
		SelfID:       selfID,
		SelfName:     selfName,
		SelfRole:     selfRole,
		AudioEnabled: true,
		VideoEnabled: true,
		byID:         make(map[string]*Participant),
	}
}

// UpsertParticipant inserts a participant in join order, or updates the
// existing entry in place. Uniqueness is by user ID.
func (s *State) UpsertParticipant(p signaling.Participant) *Participant {
	if existing, ok := s.byID[p.UserID]; ok {
		existing.Username = p.Username
		existing.Role = p.Role
		existing.AudioEnabled = p.AudioEnabled
		existing.VideoEnabled = p.VideoEnabled
		return existing
	}
	entry := &Participant{
		UserID:       p.UserID,
		Username:     p.Username,
		Role:         p.Role,
		AudioEnabled: p.AudioEnabled,
		VideoEnabled: p.VideoEnabled,
		JoinedAt:     time.Now(),
	}
	s.participants = append(s.participants, entry)
	s.byID[p.UserID] = entry
	return entry
}

// RemoveParticipant drops a member; unknown IDs are a no-op.
func (s *State) RemoveParticipant(userID string) {
	if _, ok := s.byID[userID]; !ok {
		return
	}
	delete(s.byID, userID)
	for i, p := range s.participants {
		if p.UserID == userID {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			break
		}
	}
}

// Participant looks a member up by user ID.
func (s *State) Participant(userID string) (*Participant, bool) {
	p, ok := s.byID[userID]
	return p, ok
}

// Publishers returns the members holding a media-publishing role, in
// join order.
func (s *State) Publishers() []*Participant {
	var out []*Participant
	for _, p := range s.participants {
		if IsPublisher(p.Role) {
			out = append(out, p)
		}
	}
	return out
}

// AddGuestRequest records a pending request. At most one per user;
// repeated inserts are idempotent.
func (s *State) AddGuestRequest(userID, username string) bool {
	for _, r := range s.requests {
		if r.UserID == userID {
			return false
		}
	}
	s.requests = append(s.requests, &GuestRequest{
		UserID:      userID,
		Username:    username,
		RequestedAt: time.Now(),
	})
	return true
}

// RemoveGuestRequest drops a pending request on approve or reject.
func (s *State) RemoveGuestRequest(userID string) {
	for i, r := range s.requests {
		if r.UserID == userID {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			return
		}
	}
}

// AppendChat keeps a bounded chat backlog for the UI.
func (s *State) AppendChat(entry ChatEntry) {
	s.chat = append(s.chat, entry)
	if len(s.chat) > chatBacklog {
		s.chat = s.chat[len(s.chat)-chatBacklog:]
	}
}

// Snapshot is the immutable view handed to the UI layer.
type Snapshot struct {
	SessionID   string
	Title       string
	SessionType string
	HostID      string

	SelfID   string
	SelfName string
	SelfRole string

	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
	MediaReady    bool
	Connected     bool
	ViewerCount   int

	Participants  []Participant
	GuestRequests []GuestRequest
	Chat          []ChatEntry
}

// Snapshot copies the mutable collections so the UI can read without
// racing the loop.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:     s.SessionID,
		Title:         s.Title,
		SessionType:   s.SessionType,
		HostID:        s.HostID,
		SelfID:        s.SelfID,
		SelfName:      s.SelfName,
		SelfRole:      s.SelfRole,
		AudioEnabled:  s.AudioEnabled,
		VideoEnabled:  s.VideoEnabled,
		ScreenSharing: s.ScreenSharing,
		MediaReady:    s.MediaReady,
		Connected:     s.Connected,
		ViewerCount:   s.ViewerCount,
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, *p)
	}
	for _, r := range s.requests {
		snap.GuestRequests = append(snap.GuestRequests, *r)
	}
	snap.Chat = append(snap.Chat, s.chat...)
	return snap
}

// IsSelfPublishing reports whether this client currently holds a
// publishing role (the host always does).
func (s *State) IsSelfPublishing() bool {
	return IsPublisher(s.SelfRole)
}
