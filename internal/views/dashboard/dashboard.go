// Package dashboard renders the device identity, the running counters,
// and a throughput gauge for the usbpulse TUI.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/usbpulse/usbpulse/internal/session"
	"github.com/usbpulse/usbpulse/internal/theme"
	"github.com/usbpulse/usbpulse/internal/usbio"
)

const gaugeWidth = 30

// Model holds the dashboard state.
type Model struct {
	Width int

	vendor     usbio.ID
	product    usbio.ID
	packetSize int
	writeRate  float64 // bytes/s the write path moves at full tilt
	maxRate    float64 // current gauge scale; doubles while an IN endpoint reads

	stats session.Stats
	rate  float64 // measured bytes/s

	// Spring-animated gauge position.
	spring    harmonica.Spring
	shownRate float64
	rateVel   float64
}

// New creates a dashboard for the given device and tuning. refresh is the
// UI poll interval; it sets the spring's time step.
func New(vendor, product usbio.ID, tuning session.Tuning, refresh time.Duration) Model {
	fps := 10
	if refresh > 0 {
		fps = int(time.Second / refresh)
		if fps < 1 {
			fps = 1
		}
	}

	// Best case the loop moves one full packet out per interval; a
	// device that also answers on an IN endpoint doubles that, which
	// SetStats accounts for per tick.
	interval := tuning.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	writeRate := float64(tuning.PacketSize) / interval.Seconds()

	return Model{
		vendor:     vendor,
		product:    product,
		packetSize: tuning.PacketSize,
		writeRate:  writeRate,
		maxRate:    writeRate,
		spring:     harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.8),
	}
}

// SetStats updates the counters and advances the gauge animation one
// step toward the measured rate. Call once per poll tick.
func (m *Model) SetStats(stats session.Stats, rate float64) {
	m.stats = stats
	m.rate = rate
	m.maxRate = m.writeRate
	if stats.InEndpoint {
		m.maxRate = 2 * m.writeRate
	}
	m.shownRate, m.rateVel = m.spring.Update(m.shownRate, m.rateVel, rate)
	if m.shownRate < 0 {
		m.shownRate = 0
	}
}

// View renders the device info box and the counters box.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderDevice(width),
		m.renderCounters(width),
	)
}

func (m Model) renderDevice(width int) string {
	label := theme.StyleDimmed
	value := theme.StyleBright

	content := strings.Join([]string{
		label.Render("Vendor ") + value.Render(m.vendor.String()),
		label.Render("Product ") + value.Render(m.product.String()),
		label.Render("Packet ") + value.Render(fmt.Sprintf("%d B", m.packetSize)),
	}, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render("  |  "))

	return theme.StyleBox.Width(width - 2).Render(content)
}

func (m Model) renderCounters(width int) string {
	label := theme.StyleDimmed
	value := theme.StyleBright

	counters := strings.Join([]string{
		label.Render("Packets ") + value.Render(fmt.Sprintf("%d", m.stats.Packets)),
		label.Render("Bytes ") + value.Render(formatCount(m.stats.Bytes)),
		label.Render("Rate ") + value.Render(formatCount(uint64(m.rate))+"/s"),
	}, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render("  |  "))

	gauge := m.renderGauge()

	return theme.StyleBox.Width(width - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, counters, gauge),
	)
}

// renderGauge draws the throughput bar from the spring-smoothed rate.
func (m Model) renderGauge() string {
	pct := 0.0
	if m.maxRate > 0 {
		pct = m.shownRate / m.maxRate
	}
	if pct > 1 {
		pct = 1
	}

	filled := int(pct * float64(gaugeWidth))
	if filled < 0 {
		filled = 0
	}
	empty := gaugeWidth - filled

	color := theme.ColorRunning
	if !m.stats.Running {
		color = theme.ColorDimmed
	}

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", empty))
	return bar + theme.StyleDimmed.Render(fmt.Sprintf(" %3.0f%%", pct*100))
}

// formatCount formats byte counts with K/M suffixes.
func formatCount(n uint64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
