// Package theme provides the Lip Gloss color palette and reusable styles
// for the usbpulse TUI. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorIdle     = lipgloss.Color("#3b82f6")
	ColorStarting = lipgloss.Color("#7c3aed")
	ColorRunning  = lipgloss.Color("#22c55e")
	ColorError    = lipgloss.Color("#dc2626")
	ColorWarning  = lipgloss.Color("#d97706")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorAccent = lipgloss.Color("#06b6d4")
)

// Shared styles.
var (
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleBright = lipgloss.NewStyle().Foreground(ColorBright).Bold(true)

	StyleBox = lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)
)
