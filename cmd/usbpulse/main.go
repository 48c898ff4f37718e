package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/usbpulse/usbpulse/internal/app"
	"github.com/usbpulse/usbpulse/internal/config"
	"github.com/usbpulse/usbpulse/internal/hostinfo"
	"github.com/usbpulse/usbpulse/internal/logging"
	"github.com/usbpulse/usbpulse/internal/session"
	"github.com/usbpulse/usbpulse/internal/usbio"
)

func main() {
	cliApp := &cli.App{
		Name:  "usbpulse",
		Usage: "drive randomized bulk traffic at a USB device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults to config.yaml when present)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "open the device and present the control surface",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "headless",
						Usage: "start traffic immediately and run without the TUI until interrupted",
					},
				},
				Action: runAction,
			},
			{
				Name:   "list",
				Usage:  "list attached USB devices",
				Action: listAction,
			},
		},
		// Bare invocation behaves like "run".
		Action: runAction,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load("config.yaml")
	}
	return config.Default(), nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	headless := c.Bool("headless")

	sink, err := logging.Setup(cfg.Log, headless)
	if err != nil {
		return err
	}
	defer sink.Close()

	log := sink.Logger
	log.Infof("usbpulse starting, target device %04x:%04x",
		cfg.Device.VendorID, cfg.Device.ProductID)

	sess := session.New(cfg, log)

	if headless {
		return runHeadless(sess, log)
	}

	var hs app.HostSampler
	if sampler, err := hostinfo.NewSampler(); err == nil {
		hs = sampler
	} else {
		log.WithError(err).Warn("host stats unavailable")
	}

	p := tea.NewProgram(app.New(sess, hs, cfg), tea.WithAltScreen())
	_, runErr := p.Run()

	// The TUI asks the session to stop on quit, but make sure the worker
	// is down and the device released before the process exits.
	sess.Stop()
	log.Info("usbpulse exited")
	return runErr
}

// runHeadless starts traffic immediately and runs until a signal arrives
// or the transfer loop dies.
func runHeadless(sess *session.Session, log *logrus.Logger) error {
	if err := sess.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigCh:
			log.Info("interrupted, shutting down")
			break loop
		case <-ticker.C:
			stats := sess.Stats()
			if !stats.Running {
				log.Warn("transfer loop ended")
				break loop
			}
			log.Infof("packets=%d bytes=%d", stats.Packets, stats.Bytes)
		}
	}

	sess.Stop()
	return nil
}

func listAction(c *cli.Context) error {
	bus, err := usbio.OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	descs, err := bus.List()
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		fmt.Println("no usb devices attached")
		return nil
	}
	for _, d := range descs {
		fmt.Println(d)
	}
	return nil
}
