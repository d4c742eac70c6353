package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-syncstart/app"
	"go-syncstart/clocksync"
	"go-syncstart/debug"
	"go-syncstart/midi"
	"go-syncstart/sequencer"
	"go-syncstart/theme"
	"go-syncstart/widgets"
)

const refreshRate = time.Second / 30

type Model struct {
	Session   *app.Session
	DeviceMgr *midi.DeviceManager // may be nil
	Theme     *theme.Theme

	ctx      context.Context
	status   app.Status
	track    int
	step     int
	message  string
	help     bool
	quitting bool

	controller    midi.Controller // current controller (may be nil)
	surfaceCancel context.CancelFunc
}

var keyHelp = []widgets.KeySection{
	{Title: "Transport", Keys: []widgets.KeyBinding{
		{Key: "s", Desc: "start (master, or alone)"},
		{Key: "x", Desc: "stop"},
		{Key: "+ / -", Desc: "tempo"},
	}},
	{Title: "Pattern", Keys: []widgets.KeyBinding{
		{Key: "hjkl arrows", Desc: "move"},
		{Key: "space enter", Desc: "toggle step"},
		{Key: "backspace", Desc: "clear track"},
		{Key: "r", Desc: "default pattern"},
	}},
	{Title: "Link", Keys: []widgets.KeyBinding{
		{Key: "c", Desc: "search for a peer"},
		{Key: "d", Desc: "disconnect"},
		{Key: "q", Desc: "quit"},
	}},
}

type tickMsg time.Time

type NoticeMsg app.Notice

type DeviceEventMsg midi.DeviceEvent

// NewModel builds the UI. ctx bounds peer searches and controller loops.
func NewModel(ctx context.Context, session *app.Session, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Session:   session,
		DeviceMgr: deviceMgr,
		Theme:     th,
		ctx:       ctx,
		status:    session.Status(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func ListenForNotices(s *app.Session) tea.Cmd {
	return func() tea.Msg {
		return NoticeMsg(<-s.Notices())
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	if deviceMgr == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(),
		ListenForNotices(m.Session),
		ListenForDevices(m.DeviceMgr),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.status = m.Session.Status()
		return m, tick()

	case NoticeMsg:
		m.message = describe(app.Notice(msg))
		m.status = m.Session.Status()
		return m, ListenForNotices(m.Session)

	case DeviceEventMsg:
		m.handleDevice(midi.DeviceEvent(msg))
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	sched := m.Session.Scheduler()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.stopSurface()
		return m, tea.Quit

	case "s":
		if _, err := m.Session.StartAt(); err != nil {
			m.message = "start: " + err.Error()
		}

	case "x":
		if _, err := m.Session.StopAt(); err != nil {
			m.message = "stop: " + err.Error()
		}

	case "+", "=":
		m.Session.NudgeTempo(5)

	case "-", "_":
		m.Session.NudgeTempo(-5)

	case "c":
		m.Session.Connect(m.ctx)
		m.message = "searching..."

	case "d":
		m.Session.Disconnect()
		m.message = "disconnected"

	case "h", "left":
		m.step = (m.step + sequencer.NumSteps - 1) % sequencer.NumSteps
	case "l", "right":
		m.step = (m.step + 1) % sequencer.NumSteps
	case "k", "up":
		m.track = (m.track + sequencer.NumTracks - 1) % sequencer.NumTracks
	case "j", "down":
		m.track = (m.track + 1) % sequencer.NumTracks

	case " ", "enter":
		sched.ToggleStep(m.track, m.step)

	case "backspace":
		sched.ClearTrack(m.track)

	case "r":
		sched.ResetToDefaultPattern()

	case "?":
		m.help = !m.help
	}

	m.status = m.Session.Status()
	return m, nil
}

func (m *Model) handleDevice(event midi.DeviceEvent) {
	switch event.Type {
	case midi.DeviceConnected:
		m.stopSurface()
		m.controller = event.Controller
		ctx, cancel := context.WithCancel(m.ctx)
		m.surfaceCancel = cancel
		surface := midi.NewSurface(event.Controller, m.Session.Scheduler(), m.Session)
		go func() {
			if err := surface.Run(ctx); err != nil && ctx.Err() == nil {
				debug.Log("ui", "surface %s: %v", event.ID, err)
			}
		}()
		m.message = "controller " + event.ID
	case midi.DeviceDisconnected:
		if m.controller != nil && m.controller.ID() == event.ID {
			m.stopSurface()
			m.controller = nil
		}
		m.message = "controller gone: " + event.ID
	case midi.OutPortAppeared:
		m.message = "midi out " + event.ID
	case midi.OutPortVanished:
		m.message = "midi out gone: " + event.ID
	}
}

func (m *Model) stopSurface() {
	if m.surfaceCancel != nil {
		m.surfaceCancel()
		m.surfaceCancel = nil
	}
}

func describe(n app.Notice) string {
	switch n.Kind {
	case app.NoticeConnected:
		return "connected as " + n.Role.String()
	case app.NoticeStart:
		return fmt.Sprintf("start at %.1f bpm", n.Tempo)
	}
	return n.Kind.String()
}

// Header summarises the link and transport.
func Header(st app.Status, hasController bool) string {
	role := strings.ToUpper(st.Role.String())
	if st.Role == clocksync.RoleNone {
		role = "LOCAL"
	}
	link := st.State.String()

	offset := "--"
	if st.HasOffset {
		offset = fmt.Sprintf("%+.3fms", float64(st.Offset.Offset)/1e6)
	}
	worst := st.PeerLatency
	if st.HasOffset && st.Offset.WorstCaseLatency > worst {
		worst = st.Offset.WorstCaseLatency
	}

	play := "STOP"
	if st.Sequencer.Running {
		play = "PLAY"
	}

	device := ""
	if hasController {
		device = "  LP:X"
	}

	return fmt.Sprintf("syncstart  %s %s  offset %s  worst %.2fms  %3.0fbpm  %s  step:%02d%s",
		role, link, offset, float64(worst)/1e6, st.Tempo, play, st.Sequencer.Step+1, device)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	msgStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	st := m.status
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(Header(st, m.controller != nil)))
	out.WriteString("\n\n")

	for t := 0; t < sequencer.NumTracks; t++ {
		cells := make([]widgets.StepCell, sequencer.NumSteps)
		for i := range cells {
			cells[i] = widgets.StepCell{
				On:       st.Sequencer.Pattern[t][i],
				Playhead: st.Sequencer.Running && st.Sequencer.Step == i,
				Cursor:   t == m.track && i == m.step,
			}
		}
		color := m.Theme.Track(t, sequencer.NumTracks)
		out.WriteString(widgets.RenderStepRow(m.Theme, sequencer.TrackNames[t], color, cells, sequencer.StepsPerBeat))
		out.WriteString("\n")
	}

	if m.controller != nil {
		var grid widgets.PadGrid
		for _, led := range midi.Render(st.Sequencer) {
			grid.Set(led.Row, led.Col, led.Color)
		}
		out.WriteString("\n")
		out.WriteString(widgets.RenderPadGrid(grid))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	if m.help {
		out.WriteString(dimStyle.Render(widgets.RenderKeyHelp(keyHelp)))
	} else {
		out.WriteString(dimStyle.Render("s:start x:stop +/-:tempo  space:toggle  c:connect  ?:help  q:quit"))
	}
	if m.message != "" {
		out.WriteString("\n")
		out.WriteString(msgStyle.Render(m.message))
	}
	return out.String()
}
