package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/clipcast/clipcast-cli/internal/api"
	"github.com/clipcast/clipcast-cli/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionTable renders the live-session discovery list.
type SessionTable struct {
	sessions []api.SessionSummary
}

func NewSessionTable(sessions []api.SessionSummary) *SessionTable {
	return &SessionTable{sessions: sessions}
}

// View renders the table as a string
func (t *SessionTable) View() string {
	if len(t.sessions) == 0 {
		return MutedStyle.Render("No live sessions right now")
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)
	tbl.Style().Color.Header = text.Colors{text.FgHiMagenta, text.Bold}
	tbl.AppendHeader(table.Row{"#", "Title", "Host", "Type", "Viewers", "Guests", "Live for", "Session ID"})

	for i, s := range t.sessions {
		guests := fmt.Sprintf("%d/%d", s.GuestCount, s.MaxGuests)
		if !s.AllowGuests {
			guests = "closed"
		}
		live := "-"
		if s.StartedAt != nil {
			live = utils.FormatTimeDuration(time.Since(*s.StartedAt))
		}
		tbl.AppendRow(table.Row{
			i + 1,
			utils.TruncateString(s.Title, 32),
			s.HostUsername,
			s.SessionType,
			s.ViewerCount,
			guests,
			live,
			s.ID,
		})
	}

	return tbl.Render()
}

// Render outputs the table directly to stdout
func (t *SessionTable) Render() {
	fmt.Println(t.View())
}

func RenderSessionTable(sessions []api.SessionSummary) {
	fmt.Println(NewSessionTable(sessions).View())
}

// ParticipantTable renders a session's current members.
type ParticipantTable struct {
	participants []api.ParticipantInfo
}

func NewParticipantTable(participants []api.ParticipantInfo) *ParticipantTable {
	return &ParticipantTable{participants: participants}
}

func (t *ParticipantTable) View() string {
	if len(t.participants) == 0 {
		return MutedStyle.Render("No participants")
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)
	tbl.Style().Color.Header = text.Colors{text.FgHiMagenta, text.Bold}
	tbl.AppendHeader(table.Row{"User", "Role", "Mic", "Camera", "Joined"})

	for _, p := range t.participants {
		mic := IconMic
		if !p.AudioEnabled {
			mic = IconMicOff
		}
		cam := IconCamera
		if !p.VideoEnabled {
			cam = "-"
		}
		if p.ScreenSharing {
			cam = IconScreen
		}
		tbl.AppendRow(table.Row{
			p.Username,
			p.Role,
			mic,
			cam,
			p.JoinedAt.Local().Format("15:04:05"),
		})
	}

	return tbl.Render()
}

func RenderParticipantTable(participants []api.ParticipantInfo) {
	fmt.Println(NewParticipantTable(participants).View())
}

// GuestRequestTable renders a session's open guest requests, shown to
// the host alongside the participant list.
type GuestRequestTable struct {
	requests []api.GuestRequestInfo
}

func NewGuestRequestTable(requests []api.GuestRequestInfo) *GuestRequestTable {
	return &GuestRequestTable{requests: requests}
}

func (t *GuestRequestTable) View() string {
	if len(t.requests) == 0 {
		return MutedStyle.Render("No pending guest requests")
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)
	tbl.Style().Color.Header = text.Colors{text.FgHiMagenta, text.Bold}
	tbl.AppendHeader(table.Row{"User", "Wants", "Message", "Asked"})

	for _, r := range t.requests {
		msg := "-"
		if r.Message != "" {
			msg = utils.TruncateString(r.Message, 40)
		}
		tbl.AppendRow(table.Row{
			r.Username,
			r.RequestType,
			msg,
			utils.FormatTimeDuration(time.Since(r.CreatedAt)) + " ago",
		})
	}

	return tbl.Render()
}

func RenderGuestRequestTable(requests []api.GuestRequestInfo) {
	fmt.Println(NewGuestRequestTable(requests).View())
}

// SessionInfo is the banner shown after starting a session.
type SessionInfo struct {
	SessionID string
	Title     string
	Link      string
}

func NewSessionInfo(sessionID, title, link string) *SessionInfo {
	return &SessionInfo{SessionID: sessionID, Title: title, Link: link}
}

func (s *SessionInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s You're live: %s\n\n%s Session ID:   %s\n%s Watch link:   %s",
		IconLive,
		BoldStyle.Render(s.Title),
		IconCopy, BoldStyle.Foreground(Primary).Render(s.SessionID),
		IconWeb, MutedStyle.Render(s.Link),
	)

	return boxStyle.Render(content)
}
