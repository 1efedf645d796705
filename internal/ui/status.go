package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/Camsync/internal/negotiation"
	"github.com/BioHazard786/Camsync/internal/session"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

type tickMsg time.Time

type eventMsg session.Event

// StatusView renders a live session in the terminal. Feed it coordinator
// events with Push; it polls stats on its own.
type StatusView struct {
	program *tea.Program
	model   *statusModel
	events  chan session.Event
	wg      sync.WaitGroup
}

// NewStatusView builds the view. onQuit runs once when the user presses q.
func NewStatusView(roomID string, role signaling.Role, stats func() session.Stats, onQuit func()) *StatusView {
	events := make(chan session.Event, 64)
	return &StatusView{
		model:  newStatusModel(roomID, role, stats, onQuit, events),
		events: events,
	}
}

// Start runs the program inline, keeping earlier output visible.
func (v *StatusView) Start() {
	v.program = tea.NewProgram(v.model)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Push hands an event to the view. Events arriving faster than the view can
// draw are dropped; the next one carries the full snapshot anyway.
func (v *StatusView) Push(ev session.Event) {
	select {
	case v.events <- ev:
	default:
	}
}

func (v *StatusView) Stop() {
	if v.program != nil {
		v.program.Quit()
	}
	v.wg.Wait()
}

type statusModel struct {
	roomID  string
	role    signaling.Role
	state   session.State
	engine  negotiation.State
	message string
	err     error

	stats    func() session.Stats
	current  session.Stats
	onQuit   func()
	events   <-chan session.Event
	spinner  spinner.Model
	started  time.Time
	live     time.Time
	quitting bool
}

func newStatusModel(roomID string, role signaling.Role, stats func() session.Stats, onQuit func(), events <-chan session.Event) *statusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &statusModel{
		roomID:  roomID,
		role:    role,
		message: "Starting",
		stats:   stats,
		onQuit:  onQuit,
		events:  events,
		spinner: s,
		started: time.Now(),
	}
}

func (m *statusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *statusModel) listen() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				go m.onQuit()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.stats != nil {
			m.current = m.stats()
		}
		return m, tick()

	case eventMsg:
		m.apply(session.Event(msg))
		if m.state == session.Closed {
			return m, tea.Quit
		}
		return m, m.listen()
	}
	return m, nil
}

func (m *statusModel) apply(ev session.Event) {
	if ev.Role != "" {
		m.role = ev.Role
	}
	if ev.State == session.Ready && ev.Engine == negotiation.Connected && m.live.IsZero() {
		m.live = time.Now()
	}
	if ev.State != session.Ready || ev.Engine != negotiation.Connected {
		m.live = time.Time{}
	}
	m.state, m.engine = ev.State, ev.Engine
	if ev.Message != "" {
		m.message = ev.Message
	}
	if ev.Err != nil {
		m.err = ev.Err
	}
}

func (m *statusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	indicator := m.spinner.View()
	if !m.live.IsZero() {
		indicator = IconLive
	}
	fmt.Fprintf(&b, "%s %s\n\n", indicator, BoldStyle.Render(m.message))

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(label), value)
	}
	row("Room", TitleStyle.Render(m.roomID))
	row("Role", roleIcon(m.role)+" "+string(m.role))
	row("Session", m.state.String())
	row("Peer link", m.engine.String())
	if !m.live.IsZero() {
		row("Live for", formatDuration(time.Since(m.live)))
	}
	if m.current.RemoteTracks > 0 {
		row("Receiving", fmt.Sprintf("%d tracks, %s", m.current.RemoteTracks, formatBytes(m.current.Bytes)))
	}
	if m.err != nil {
		row("Error", ErrorStyle.Render(session.Status(m.err)))
	}

	out := StatusBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
	return "\n" + out + "\n" + MutedStyle.Render("Press q to leave the room") + "\n"
}

func roleIcon(role signaling.Role) string {
	switch role {
	case signaling.RoleLaptop:
		return IconLaptop
	case signaling.RoleMobile:
		return IconMobile
	}
	return IconWaiting
}
