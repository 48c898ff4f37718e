// Package status renders the one-line status bar: session state, host
// load, and the log sink location.
package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/usbpulse/usbpulse/internal/hostinfo"
	"github.com/usbpulse/usbpulse/internal/theme"
)

// State is the session state as the control surface sees it.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateError
)

// Model holds the status bar state.
type Model struct {
	Width   int
	State   State
	Err     error
	Host    hostinfo.Sample
	LogPath string
}

func New(logPath string) Model {
	return Model{LogPath: logPath}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var stateStr string
	switch m.State {
	case StateRunning:
		stateStr = lipgloss.NewStyle().Foreground(theme.ColorRunning).Render("● Running")
	case StateStarting:
		stateStr = lipgloss.NewStyle().Foreground(theme.ColorStarting).Render("◎ Starting...")
	case StateError:
		msg := "error"
		if m.Err != nil {
			msg = m.Err.Error()
		}
		stateStr = lipgloss.NewStyle().Foreground(theme.ColorError).Render("✗ " + msg)
	default:
		stateStr = lipgloss.NewStyle().Foreground(theme.ColorIdle).Render("○ Ready")
	}

	var parts []string
	parts = append(parts, stateStr)

	if m.Host.ProcRSSBytes > 0 {
		parts = append(parts, theme.StyleDimmed.Render(fmt.Sprintf(
			"cpu %.1f%%  rss %s  host mem %.0f%%",
			m.Host.ProcCPUPercent,
			formatBytes(m.Host.ProcRSSBytes),
			m.Host.HostMemPercent,
		)))
	}

	parts = append(parts, theme.StyleDimmed.Render("log: "+m.LogPath))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := strings.Join(parts, sep)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		Render(content)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
