package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values can be written as "50ms"
// or "1s" instead of nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Traffic TrafficConfig `yaml:"traffic"`
	UI      UIConfig      `yaml:"ui"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig identifies the device to drive on the bus.
type DeviceConfig struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

// TrafficConfig tunes the transfer loop.
type TrafficConfig struct {
	PacketSize      int      `yaml:"packet_size"`
	TransferTimeout Duration `yaml:"transfer_timeout"`
	Interval        Duration `yaml:"interval"`
}

type UIConfig struct {
	Refresh Duration `yaml:"refresh"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration: the Lumidigm sensor IDs and
// the transfer tuning the tool has always used.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:  0x1fae,
			ProductID: 0x0013,
		},
		Traffic: TrafficConfig{
			PacketSize:      64,
			TransferTimeout: Duration(time.Second),
			Interval:        Duration(50 * time.Millisecond),
		},
		UI: UIConfig{
			Refresh: Duration(100 * time.Millisecond),
		},
		Log: LogConfig{
			File:  "usbpulse.log",
			Level: "info",
		},
	}
}

// Load reads path and unmarshals it over the defaults, so a partial file
// only overrides what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Traffic.PacketSize <= 0 {
		return fmt.Errorf("traffic.packet_size must be positive, got %d", c.Traffic.PacketSize)
	}
	if c.Traffic.TransferTimeout <= 0 {
		return fmt.Errorf("traffic.transfer_timeout must be positive")
	}
	if c.Traffic.Interval < 0 {
		return fmt.Errorf("traffic.interval must not be negative")
	}
	if c.UI.Refresh <= 0 {
		return fmt.Errorf("ui.refresh must be positive")
	}
	return nil
}
