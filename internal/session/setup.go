package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/usbpulse/usbpulse/internal/usbio"
)

// setupStrategy prepares a freshly opened device for bulk transfers. The
// two platforms diverge in how they take ownership of the interface, so
// the strategy is picked once at session creation instead of branching
// inline.
type setupStrategy interface {
	name() string
	prepare(dev usbio.Device, log *logrus.Entry) error
}

// setupFor selects the strategy for the given GOOS.
func setupFor(goos string) setupStrategy {
	if goos == "windows" {
		return resetSetup{}
	}
	return detachSetup{}
}

// resetSetup is the Windows path: port-reset the device, then activate
// its configuration. WinUSB-style backends often refuse one or both, so
// each step is best-effort and failures are logged as warnings.
type resetSetup struct{}

func (resetSetup) name() string { return "reset" }

func (resetSetup) prepare(dev usbio.Device, log *logrus.Entry) error {
	if err := dev.Reset(); err != nil {
		log.WithError(err).Warn("device reset failed")
	} else {
		log.Info("device reset")
	}
	if err := dev.SetConfiguration(); err != nil {
		log.WithError(err).Warn("configuration warning")
	} else {
		log.Info("device configuration set")
	}
	return nil
}

// detachSetup is the path everywhere else: release any kernel driver
// claim on the interface, then activate the configuration. Here a
// configuration failure is fatal — the kernel either gave up the device
// or it cannot be driven.
type detachSetup struct{}

func (detachSetup) name() string { return "detach" }

func (detachSetup) prepare(dev usbio.Device, log *logrus.Entry) error {
	if err := dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("detaching kernel driver: %w", err)
	}
	log.Info("kernel driver auto-detach enabled")
	if err := dev.SetConfiguration(); err != nil {
		return fmt.Errorf("setting configuration: %w", err)
	}
	log.Info("device configuration set")
	return nil
}
