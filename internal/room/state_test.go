package room

import (
	"fmt"
	"testing"

	"github.com/clipcast/clipcast-cli/internal/signaling"
)

func newTestState() *State {
	return NewState("sess1", "late night", "voice", "host1", "me", "self", RoleViewer)
}

func TestUpsertParticipantKeepsJoinOrder(t *testing.T) {
	s := newTestState()

	s.UpsertParticipant(signaling.Participant{UserID: "u1", Username: "ann", Role: RoleHost})
	s.UpsertParticipant(signaling.Participant{UserID: "u2", Username: "bob", Role: RoleViewer})
	s.UpsertParticipant(signaling.Participant{UserID: "u3", Username: "cat", Role: RoleGuest})

	// Updating an existing member must not change its position.
	s.UpsertParticipant(signaling.Participant{UserID: "u1", Username: "ann", Role: RoleHost, AudioEnabled: true})

	snap := s.Snapshot()
	if len(snap.Participants) != 3 {
		t.Fatalf("got %d participants, want 3", len(snap.Participants))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if snap.Participants[i].UserID != want {
			t.Errorf("position %d = %s, want %s", i, snap.Participants[i].UserID, want)
		}
	}
	if !snap.Participants[0].AudioEnabled {
		t.Error("upsert did not update the existing entry")
	}
}

func TestRemoveParticipant(t *testing.T) {
	s := newTestState()
	s.UpsertParticipant(signaling.Participant{UserID: "u1", Username: "ann"})
	s.UpsertParticipant(signaling.Participant{UserID: "u2", Username: "bob"})

	s.RemoveParticipant("u1")
	s.RemoveParticipant("missing")

	if _, ok := s.Participant("u1"); ok {
		t.Error("u1 survived removal")
	}
	if got := len(s.Snapshot().Participants); got != 1 {
		t.Errorf("got %d participants, want 1", got)
	}
}

func TestPublishersExcludeViewers(t *testing.T) {
	s := newTestState()
	s.UpsertParticipant(signaling.Participant{UserID: "u1", Role: RoleHost})
	s.UpsertParticipant(signaling.Participant{UserID: "u2", Role: RoleViewer})
	s.UpsertParticipant(signaling.Participant{UserID: "u3", Role: RoleGuest})
	s.UpsertParticipant(signaling.Participant{UserID: "u4", Role: RoleCohost})

	pubs := s.Publishers()
	if len(pubs) != 3 {
		t.Fatalf("got %d publishers, want 3", len(pubs))
	}
	for _, p := range pubs {
		if p.UserID == "u2" {
			t.Error("viewer counted as publisher")
		}
	}
}

func TestGuestRequestIdempotent(t *testing.T) {
	s := newTestState()

	if !s.AddGuestRequest("u1", "ann") {
		t.Error("first request should be recorded")
	}
	if s.AddGuestRequest("u1", "ann") {
		t.Error("repeat request should be ignored")
	}
	if got := len(s.Snapshot().GuestRequests); got != 1 {
		t.Fatalf("got %d requests, want 1", got)
	}

	s.RemoveGuestRequest("u1")
	if got := len(s.Snapshot().GuestRequests); got != 0 {
		t.Errorf("got %d requests after removal, want 0", got)
	}
	if !s.AddGuestRequest("u1", "ann") {
		t.Error("a resolved request should allow a fresh one")
	}
}

func TestChatBacklogBounded(t *testing.T) {
	s := newTestState()
	for i := 0; i < chatBacklog+25; i++ {
		s.AppendChat(ChatEntry{ID: fmt.Sprint(i), Message: "m"})
	}

	chat := s.Snapshot().Chat
	if len(chat) != chatBacklog {
		t.Fatalf("backlog = %d, want %d", len(chat), chatBacklog)
	}
	if chat[len(chat)-1].ID != fmt.Sprint(chatBacklog+24) {
		t.Error("newest entry missing from backlog")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := newTestState()
	s.UpsertParticipant(signaling.Participant{UserID: "u1", Username: "ann"})

	snap := s.Snapshot()
	snap.Participants[0].Username = "mutated"

	if p, _ := s.Participant("u1"); p.Username != "ann" {
		t.Error("mutating a snapshot leaked into state")
	}
}

func TestIsPublisher(t *testing.T) {
	cases := map[string]bool{
		RoleHost:   true,
		RoleCohost: true,
		RoleGuest:  true,
		RoleViewer: false,
		"":         false,
	}
	for role, want := range cases {
		if got := IsPublisher(role); got != want {
			t.Errorf("IsPublisher(%q) = %v, want %v", role, got, want)
		}
	}
}
