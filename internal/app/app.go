// Package app is the Bubble Tea root model for the usbpulse control
// surface: start/stop keys, plus a fixed-interval poll of the session
// counters that runs whether or not a transfer is active.
package app

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/usbpulse/usbpulse/internal/config"
	"github.com/usbpulse/usbpulse/internal/hostinfo"
	"github.com/usbpulse/usbpulse/internal/session"
	"github.com/usbpulse/usbpulse/internal/theme"
	"github.com/usbpulse/usbpulse/internal/usbio"
	"github.com/usbpulse/usbpulse/internal/views/dashboard"
	"github.com/usbpulse/usbpulse/internal/views/status"
)

// Traffic is the slice of the device session the control surface needs.
type Traffic interface {
	Start() error
	Stop()
	Stats() session.Stats
}

// HostSampler reads host/process load for the status bar.
type HostSampler interface {
	Sample() hostinfo.Sample
}

// TickMsg drives the counter poll.
type TickMsg time.Time

type startedMsg struct{ err error }

type stoppedMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	traffic Traffic
	sampler HostSampler
	keys    KeyMap
	refresh time.Duration

	width  int
	height int

	starting bool
	startErr error
	stats    session.Stats

	// Rate measurement between ticks.
	lastBytes uint64
	lastTick  time.Time

	dashboard dashboard.Model
	status    status.Model
}

// New creates the root model.
func New(traffic Traffic, sampler HostSampler, cfg *config.Config) Model {
	tuning := session.Tuning{
		PacketSize:      cfg.Traffic.PacketSize,
		TransferTimeout: cfg.Traffic.TransferTimeout.Std(),
		Interval:        cfg.Traffic.Interval.Std(),
	}
	refresh := cfg.UI.Refresh.Std()
	return Model{
		traffic: traffic,
		sampler: sampler,
		keys:    DefaultKeyMap(),
		refresh: refresh,
		dashboard: dashboard.New(
			usbio.ID(cfg.Device.VendorID),
			usbio.ID(cfg.Device.ProductID),
			tuning,
			refresh,
		),
		status: status.New(cfg.Log.File),
	}
}

// Init arms the first poll tick.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard.Width = msg.Width
		m.status.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case startedMsg:
		m.starting = false
		m.startErr = msg.err
		return m, nil

	case stoppedMsg:
		return m, nil

	case TickMsg:
		now := time.Time(msg)
		m.stats = m.traffic.Stats()

		var rate float64
		if !m.lastTick.IsZero() {
			dt := now.Sub(m.lastTick).Seconds()
			if dt > 0 && m.stats.Bytes >= m.lastBytes {
				rate = float64(m.stats.Bytes-m.lastBytes) / dt
			}
		}
		m.lastBytes = m.stats.Bytes
		m.lastTick = now

		m.dashboard.SetStats(m.stats, rate)
		m.status.State = m.state()
		m.status.Err = m.startErr
		if m.sampler != nil {
			m.status.Host = m.sampler.Sample()
		}
		return m, m.tick()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		// Stop before teardown so the worker is asked to end and joined
		// before the program exits.
		return m, tea.Sequence(m.stopCmd(), tea.Quit)

	case key.Matches(msg, m.keys.Start):
		if m.starting || m.stats.Running {
			return m, nil
		}
		m.starting = true
		m.startErr = nil
		traffic := m.traffic
		return m, func() tea.Msg {
			return startedMsg{err: traffic.Start()}
		}

	case key.Matches(msg, m.keys.Stop):
		return m, m.stopCmd()
	}

	return m, nil
}

func (m Model) stopCmd() tea.Cmd {
	traffic := m.traffic
	return func() tea.Msg {
		traffic.Stop()
		return stoppedMsg{}
	}
}

func (m Model) state() status.State {
	switch {
	case m.starting:
		return status.StateStarting
	case m.stats.Running:
		return status.StateRunning
	case m.startErr != nil:
		return status.StateError
	default:
		return status.StateIdle
	}
}

// View renders the full surface.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorAccent).
		Padding(0, 1).
		Render("usbpulse — bulk traffic generator")

	help := theme.StyleDimmed.Padding(0, 1).Render(
		m.keys.Start.Help().Key + " " + m.keys.Start.Help().Desc + "  ·  " +
			m.keys.Stop.Help().Key + " " + m.keys.Stop.Help().Desc + "  ·  " +
			m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc,
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.dashboard.View(),
		m.status.View(),
		help,
	)
}
