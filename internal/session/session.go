// Package session drives one USB device: it locates the device by
// vendor/product identifier, configures it for the platform, and runs a
// background loop writing randomized bulk packets (and reading replies
// when the device has a bulk IN endpoint).
//
// Counters are process-lifetime: stopping a session keeps them, and a
// restarted session continues counting from where it left off.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usbpulse/usbpulse/internal/config"
	"github.com/usbpulse/usbpulse/internal/usbio"
)

var (
	// ErrNoOutputEndpoint means the device's default interface exposes no
	// bulk OUT endpoint, so there is nothing to write to.
	ErrNoOutputEndpoint = errors.New("no bulk OUT endpoint on default interface")

	// ErrAlreadyRunning guards against starting a second transfer loop.
	ErrAlreadyRunning = errors.New("transfer loop already running")
)

// Tuning holds the transfer loop parameters.
type Tuning struct {
	PacketSize      int
	TransferTimeout time.Duration
	Interval        time.Duration
}

// Stats is a point-in-time snapshot for display. InEndpoint reports
// whether the current (or last) run is reading a bulk IN endpoint in
// addition to writing, which doubles the achievable byte rate.
type Stats struct {
	Running    bool
	InEndpoint bool
	Packets    uint64
	Bytes      uint64
}

// Session owns the device handle and the transfer loop. The loop goroutine
// is the only writer of the counters and the sole user of the endpoints
// once started; the UI reads the atomic counters through Stats.
type Session struct {
	log     *logrus.Entry
	vendor  usbio.ID
	product usbio.ID
	tuning  Tuning

	openBus func() (usbio.Bus, error)
	setup   setupStrategy

	mu     sync.Mutex // guards start/stop transitions and the handles below
	bus    usbio.Bus
	dev    usbio.Device
	intf   usbio.Interface
	cancel context.CancelFunc
	done   chan struct{}

	running  atomic.Bool
	inActive atomic.Bool
	packets  atomic.Uint64
	bytes    atomic.Uint64
}

// New builds an idle session from configuration. The platform setup
// strategy is fixed here, once, from the host OS.
func New(cfg *config.Config, logger *logrus.Logger) *Session {
	return &Session{
		log:     logger.WithField("component", "session"),
		vendor:  usbio.ID(cfg.Device.VendorID),
		product: usbio.ID(cfg.Device.ProductID),
		tuning: Tuning{
			PacketSize:      cfg.Traffic.PacketSize,
			TransferTimeout: cfg.Traffic.TransferTimeout.Std(),
			Interval:        cfg.Traffic.Interval.Std(),
		},
		openBus: usbio.OpenBus,
		setup:   setupFor(runtime.GOOS),
	}
}

// Start locates and configures the device, then launches the transfer
// loop. Discovery and configuration run synchronously on the calling
// goroutine so failures surface to the caller; only the loop itself runs
// in the background. Errors: usbio.ErrBackendNotFound,
// usbio.ErrDeviceNotFound, ErrNoOutputEndpoint, ErrAlreadyRunning, or a
// wrapped configuration failure.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	// A loop that died on a transfer error leaves its handles held for
	// Stop to release. Release them now so reacquiring the device never
	// orphans a still-claimed interface.
	s.releaseLocked()

	out, in, err := s.acquire()
	if err != nil {
		s.releaseLocked()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.inActive.Store(in != nil)
	s.running.Store(true)
	go s.loop(ctx, done, out, in)
	s.log.Info("traffic generation started")
	return nil
}

// acquire walks the startup sequence: backend, enumeration, device match,
// platform setup, interface claim, endpoint resolution.
func (s *Session) acquire() (out, in usbio.Endpoint, err error) {
	bus, err := s.openBus()
	if err != nil {
		return nil, nil, fmt.Errorf("setting up backend: %w", err)
	}
	s.bus = bus

	descs, err := bus.List()
	if err != nil {
		return nil, nil, err
	}
	s.log.Infof("%d usb device(s) attached", len(descs))
	for _, d := range descs {
		s.log.Infof("  %s", d)
	}

	dev, err := bus.Open(s.vendor, s.product)
	if err != nil {
		return nil, nil, err
	}
	s.dev = dev
	s.log.Infof("device %s found, configuring (%s setup)", dev.Desc(), s.setup.name())

	if err := s.setup.prepare(dev, s.log); err != nil {
		return nil, nil, fmt.Errorf("configuring device: %w", err)
	}

	intf, err := dev.ClaimDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("claiming default interface: %w", err)
	}
	s.intf = intf

	outDesc, inDesc := usbio.FindBulk(intf.Endpoints())
	if outDesc == nil {
		return nil, nil, ErrNoOutputEndpoint
	}

	out, err = s.intf.Out(outDesc.Number)
	if err != nil {
		return nil, nil, err
	}
	if inDesc != nil {
		in, err = s.intf.In(inDesc.Number)
		if err != nil {
			return nil, nil, err
		}
		s.log.Infof("using endpoints OUT 0x%02x, IN 0x%02x", outDesc.Address(), inDesc.Address())
	} else {
		s.log.Infof("using endpoint OUT 0x%02x, no IN endpoint", outDesc.Address())
	}
	return out, in, nil
}

// loop is the transfer worker. It exits on cancellation, on the running
// flag clearing, or on the first unrecoverable transfer error. The device
// handles stay held after an error exit; Stop releases them.
func (s *Session) loop(ctx context.Context, done chan<- struct{}, out, in usbio.Endpoint) {
	defer close(done)
	defer s.running.Store(false)

	payload := make([]byte, s.tuning.PacketSize)
	reply := make([]byte, s.tuning.PacketSize)

	for s.running.Load() {
		if _, err := rand.Read(payload); err != nil {
			s.log.WithError(err).Error("generating payload failed")
			return
		}

		n, err := out.Transfer(payload, s.tuning.TransferTimeout)
		if err != nil {
			s.log.WithError(err).Error("bulk write failed, stopping traffic")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(n))
		s.log.WithFields(logrus.Fields{
			"packet": s.packets.Load(),
			"bytes":  n,
		}).Debug("packet sent")

		if in != nil {
			n, err := in.Transfer(reply, s.tuning.TransferTimeout)
			switch {
			case err == nil:
				s.bytes.Add(uint64(n))
				s.log.WithField("bytes", n).Debug("reply received")
			case errors.Is(err, usbio.ErrTimeout):
				// Nothing to read this iteration; expected.
			default:
				s.log.WithError(err).Error("bulk read failed, stopping traffic")
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.tuning.Interval):
		}
	}
}

// Stop signals the transfer loop, joins it with a bounded wait, and then
// releases the device — in that order, so release never races an
// in-flight transfer. Stopping an idle session is a no-op; counters are
// never reset.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.cancel != nil || s.dev != nil

	if s.cancel != nil {
		s.running.Store(false)
		s.cancel()
		grace := s.tuning.TransferTimeout + s.tuning.Interval + time.Second
		select {
		case <-s.done:
		case <-time.After(grace):
			s.log.Warn("transfer worker did not exit within grace period")
		}
		s.cancel = nil
		s.done = nil
	}

	s.releaseLocked()
	if active {
		s.log.Info("traffic stopped, resources released")
	}
}

// releaseLocked closes whatever is held. Failures here are logged and
// swallowed; there is nothing useful a caller can do with them.
func (s *Session) releaseLocked() {
	if s.intf != nil {
		s.intf.Close()
		s.intf = nil
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			s.log.WithError(err).Error("failed to release device resources")
		}
		s.dev = nil
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.WithError(err).Error("failed to close usb context")
		}
		s.bus = nil
	}
}

// Stats returns a display snapshot. Safe to call from any goroutine.
func (s *Session) Stats() Stats {
	return Stats{
		Running:    s.running.Load(),
		InEndpoint: s.inActive.Load(),
		Packets:    s.packets.Load(),
		Bytes:      s.bytes.Load(),
	}
}
