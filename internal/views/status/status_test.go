package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/usbpulse/usbpulse/internal/hostinfo"
)

func TestStateRendering(t *testing.T) {
	tests := []struct {
		name  string
		state State
		err   error
		want  string
	}{
		{"idle", StateIdle, nil, "Ready"},
		{"starting", StateStarting, nil, "Starting"},
		{"running", StateRunning, nil, "Running"},
		{"error", StateError, errors.New("device not found"), "device not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("usbpulse.log")
			m.Width = 80
			m.State = tt.state
			m.Err = tt.err
			assert.Contains(t, m.View(), tt.want)
		})
	}
}

func TestHostStatsShownWhenAvailable(t *testing.T) {
	m := New("usbpulse.log")
	m.Width = 100
	m.Host = hostinfo.Sample{ProcCPUPercent: 2.5, ProcRSSBytes: 18 << 20, HostMemPercent: 43}

	view := m.View()
	assert.Contains(t, view, "cpu 2.5%")
	assert.Contains(t, view, "18.0M")
	assert.Contains(t, view, "43%")
}

func TestHostStatsOmittedWhenUnavailable(t *testing.T) {
	m := New("usbpulse.log")
	m.Width = 80

	view := m.View()
	assert.NotContains(t, view, "cpu")
	assert.Contains(t, view, "usbpulse.log")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0K", formatBytes(1024))
	assert.Equal(t, "18.0M", formatBytes(18<<20))
}
