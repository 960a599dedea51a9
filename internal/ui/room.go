package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/clipcast/clipcast-cli/internal/room"
	"github.com/clipcast/clipcast-cli/internal/utils"
)

// RoomController is the slice of room.Room the view drives. Narrowed so
// tests can fake it.
type RoomController interface {
	ToggleAudio()
	ToggleVideo()
	SendChat(text string)
	SendReaction(glyph string)
	RequestGuest()
	RespondGuest(userID string, approve bool)
	StartScreenShare(path string)
	StopScreenShare()
	MuteParticipant(userID string)
	KickParticipant(userID, reason string)
	PromoteParticipant(userID, newRole string)
	Leave()
}

// RoomUI runs the interactive live-room view. Snapshots and notices are
// pushed in from the room loop; key presses go out through the
// controller.
type RoomUI struct {
	program *tea.Program
	model   *roomModel
	updates chan tea.Msg
}

type snapshotMsg room.Snapshot

type noticeMsg room.Notice

const noticeBacklog = 5

// NewRoomUI builds the view. screenPath is the IVF file offered when
// screen share is toggled; empty disables the binding.
func NewRoomUI(ctrl RoomController, screenPath string) *RoomUI {
	updates := make(chan tea.Msg, 64)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	input := textinput.New()
	input.Placeholder = "say something..."
	input.CharLimit = 500
	input.Width = 48

	model := &roomModel{
		ctrl:       ctrl,
		screenPath: screenPath,
		spinner:    s,
		input:      input,
		updates:    updates,
		startTime:  time.Now(),
	}

	return &RoomUI{model: model, updates: updates}
}

// Run blocks until the user quits or Stop is called.
func (ui *RoomUI) Run() error {
	ui.program = tea.NewProgram(ui.model, tea.WithAltScreen())
	_, err := ui.program.Run()
	return err
}

// PushSnapshot hands the view a fresh room snapshot. Safe from any
// goroutine; drops on overflow since a newer snapshot always follows.
func (ui *RoomUI) PushSnapshot(snap room.Snapshot) {
	select {
	case ui.updates <- snapshotMsg(snap):
	default:
	}
}

// PushNotice hands the view a user-visible notice.
func (ui *RoomUI) PushNotice(n room.Notice) {
	select {
	case ui.updates <- noticeMsg(n):
	default:
	}
}

// Stop closes the view from outside, e.g. when the session ends.
func (ui *RoomUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
}

type roomModel struct {
	ctrl       RoomController
	screenPath string

	snap     room.Snapshot
	notices  []room.Notice
	spinner  spinner.Model
	input    textinput.Model
	typing   bool
	width    int
	quitting bool

	updates   chan tea.Msg
	startTime time.Time
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *roomModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.typing {
			return m.updateTyping(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case snapshotMsg:
		m.snap = room.Snapshot(msg)
		cmds = append(cmds, m.listenForUpdates())

	case noticeMsg:
		m.notices = append(m.notices, room.Notice(msg))
		if len(m.notices) > noticeBacklog {
			m.notices = m.notices[len(m.notices)-noticeBacklog:]
		}
		cmds = append(cmds, m.listenForUpdates())
	}

	return m, tea.Batch(cmds...)
}

func (m *roomModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.ctrl.Leave()
		return m, tea.Quit
	case "m":
		m.ctrl.ToggleAudio()
	case "v":
		m.ctrl.ToggleVideo()
	case "c":
		m.typing = true
		m.input.Focus()
		return m, textinput.Blink
	case "r":
		m.ctrl.SendReaction("❤️")
	case "g":
		if m.snap.SelfRole == room.RoleViewer {
			m.ctrl.RequestGuest()
		}
	case "a":
		if len(m.snap.GuestRequests) > 0 {
			m.ctrl.RespondGuest(m.snap.GuestRequests[0].UserID, true)
		}
	case "x":
		if len(m.snap.GuestRequests) > 0 {
			m.ctrl.RespondGuest(m.snap.GuestRequests[0].UserID, false)
		}
	case "s":
		if m.screenPath == "" {
			break
		}
		if m.snap.ScreenSharing {
			m.ctrl.StopScreenShare()
		} else {
			m.ctrl.StartScreenShare(m.screenPath)
		}
	}
	return m, nil
}

func (m *roomModel) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if strings.HasPrefix(text, "/") {
			m.runCommand(text)
		} else if text != "" {
			m.ctrl.SendChat(text)
		}
		m.input.Reset()
		m.input.Blur()
		m.typing = false
		return m, nil
	case "esc":
		m.input.Reset()
		m.input.Blur()
		m.typing = false
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runCommand handles the moderation slash commands typed into chat:
// /mute, /kick, and /promote, each taking a username.
func (m *roomModel) runCommand(text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		m.localNotice(room.NoticeWarning, "usage: /mute|/kick|/promote <username>")
		return
	}
	target, ok := m.findUser(fields[1])
	if !ok {
		m.localNotice(room.NoticeWarning, fmt.Sprintf("no participant named %q", fields[1]))
		return
	}

	switch fields[0] {
	case "/mute":
		m.ctrl.MuteParticipant(target)
	case "/kick":
		reason := strings.Join(fields[2:], " ")
		m.ctrl.KickParticipant(target, reason)
	case "/promote":
		m.ctrl.PromoteParticipant(target, room.RoleCohost)
	default:
		m.localNotice(room.NoticeWarning, "unknown command "+fields[0])
	}
}

func (m *roomModel) findUser(username string) (string, bool) {
	for _, p := range m.snap.Participants {
		if strings.EqualFold(p.Username, username) {
			return p.UserID, true
		}
	}
	return "", false
}

func (m *roomModel) localNotice(level room.NoticeLevel, text string) {
	m.notices = append(m.notices, room.Notice{Level: level, Text: text, At: time.Now()})
	if len(m.notices) > noticeBacklog {
		m.notices = m.notices[len(m.notices)-noticeBacklog:]
	}
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.participantsView())
	b.WriteString("\n")
	b.WriteString(m.chatView())
	b.WriteString("\n")
	b.WriteString(m.noticesView())
	b.WriteString("\n")

	if m.typing {
		b.WriteString(fmt.Sprintf("%s %s\n", IconChat, m.input.View()))
	} else {
		b.WriteString(m.footerView())
	}

	return b.String()
}

func (m *roomModel) headerView() string {
	badge := LiveBadgeStyle.Render("LIVE")
	status := fmt.Sprintf("%s %s", m.spinner.View(), "connecting")
	if m.snap.Connected {
		status = fmt.Sprintf("%s %s viewers", IconViewer, utils.FormatCount(m.snap.ViewerCount))
	}
	elapsed := utils.FormatTimeDuration(time.Since(m.startTime))

	return fmt.Sprintf("%s %s  %s  %s  %s",
		badge,
		BoldStyle.Render(m.snap.Title),
		MutedStyle.Render("("+m.snap.SessionType+")"),
		status,
		MutedStyle.Render(elapsed),
	)
}

func (m *roomModel) participantsView() string {
	var b strings.Builder
	b.WriteString(SubtitleStyle.Render("On stage"))
	b.WriteString("\n")

	b.WriteString("  " + m.selfLine() + "\n")
	for _, p := range m.snap.Participants {
		if !room.IsPublisher(p.Role) {
			continue
		}
		b.WriteString("  " + participantLine(p.Username, p.Role, p.AudioEnabled, p.VideoEnabled) + "\n")
	}

	for _, r := range m.snap.GuestRequests {
		b.WriteString(fmt.Sprintf("  %s %s wants to join %s\n",
			IconGuest,
			UsernameStyle.Render(r.Username),
			MutedStyle.Render("(a approve / x reject)"),
		))
	}

	return b.String()
}

func (m *roomModel) selfLine() string {
	line := participantLine(m.snap.SelfName+" (you)", m.snap.SelfRole, m.snap.AudioEnabled, m.snap.VideoEnabled)
	if m.snap.ScreenSharing {
		line += " " + IconScreen
	}
	return line
}

func participantLine(name, role string, audio, video bool) string {
	mic := IconMic
	if !audio {
		mic = IconMicOff
	}
	cam := IconCamera
	if !video {
		cam = MutedStyle.Render("--")
	}
	icon := ""
	switch role {
	case room.RoleHost:
		icon = IconHost + " "
	case room.RoleGuest:
		icon = IconGuest + " "
	}
	return fmt.Sprintf("%s%s %s %s %s", icon, UsernameStyle.Render(name), MutedStyle.Render(role), mic, cam)
}

const chatVisible = 10

func (m *roomModel) chatView() string {
	var b strings.Builder
	b.WriteString(SubtitleStyle.Render("Chat"))
	b.WriteString("\n")

	chat := m.snap.Chat
	if len(chat) > chatVisible {
		chat = chat[len(chat)-chatVisible:]
	}
	if len(chat) == 0 {
		b.WriteString(MutedStyle.Render("  nothing yet") + "\n")
		return b.String()
	}
	for _, entry := range chat {
		name := utils.TruncateString(entry.Username, 16)
		b.WriteString(fmt.Sprintf("  %s %s\n", UsernameStyle.Render(name+":"), entry.Message))
	}
	return b.String()
}

func (m *roomModel) noticesView() string {
	if len(m.notices) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range m.notices {
		style := MutedStyle
		switch n.Level {
		case room.NoticeSuccess:
			style = SuccessStyle
		case room.NoticeWarning:
			style = WarningStyle
		case room.NoticeError:
			style = ErrorStyle
		}
		b.WriteString("  " + style.Render(n.Text) + "\n")
	}
	return b.String()
}

func (m *roomModel) footerView() string {
	keys := []string{"m mic", "v cam", "c chat", "r react"}
	if m.snap.SelfRole == room.RoleViewer {
		keys = append(keys, "g request guest")
	}
	if m.snap.SelfRole == room.RoleHost || m.snap.SelfRole == room.RoleCohost {
		keys = append(keys, "a/x guests")
	}
	if m.screenPath != "" && room.IsPublisher(m.snap.SelfRole) {
		keys = append(keys, "s share")
	}
	keys = append(keys, "q leave")
	return FooterStyle.Render(strings.Join(keys, " · "))
}
