// Package config loads a host configuration from YAML.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/task"
	"github.com/rigado/blehost/sliceops"
	"gopkg.in/yaml.v3"
)

// Transport types.
const (
	TransportHCI      = "hci"
	TransportH4Socket = "h4-socket"
	TransportH4Uart   = "h4-uart"
	TransportNone     = "none"
)

type Config struct {
	LogLevel   string     `yaml:"logLevel"`
	Transport  Transport  `yaml:"transport"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Privacy    Privacy    `yaml:"privacy"`
	// Bonds is the path of the bonds file. Empty keeps records in memory.
	Bonds string `yaml:"bonds"`
}

type Transport struct {
	Type    string        `yaml:"type"`
	Device  int           `yaml:"device"`
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
	Path    string        `yaml:"path"`
	Baud    uint          `yaml:"baud"`
}

type Dispatcher struct {
	TickPeriod      time.Duration `yaml:"tickPeriod"`
	QuickTickPeriod time.Duration `yaml:"quickTickPeriod"`
	Mailbox         int           `yaml:"mailbox"`
	EventRanges     int           `yaml:"eventRanges"`
	Timers          int           `yaml:"timers"`
	PreloadGate     bool          `yaml:"preloadGate"`
}

type Privacy struct {
	Enabled bool `yaml:"enabled"`
	// IdentityKey is the local IRK, 32 hex digits, most significant first.
	IdentityKey      string        `yaml:"identityKey"`
	RotationInterval time.Duration `yaml:"rotationInterval"`
}

// New returns the defaults: first hci device, dispatcher defaults, no privacy.
func New() *Config {
	return &Config{
		LogLevel: "info",
		Transport: Transport{
			Type:    TransportHCI,
			Device:  -1,
			Timeout: 5 * time.Second,
		},
		Dispatcher: Dispatcher{
			TickPeriod:      task.DefaultTickPeriod,
			QuickTickPeriod: task.DefaultQuickTickPeriod,
			Mailbox:         task.DefaultMailboxSize,
			EventRanges:     task.DefaultEventCapacity,
			Timers:          task.DefaultTimerCapacity,
		},
		Privacy: Privacy{
			RotationInterval: 15 * time.Minute,
		},
	}
}

// Parse decodes YAML over the defaults.
func Parse(b []byte) (*Config, error) {
	c := New()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "can't parse config")
	}
	return c, nil
}

// Load reads a config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't read config")
	}
	c, err := Parse(b)
	return c, errors.Wrap(err, path)
}

// IRK decodes the identity key to the little-endian order the stack uses.
func (c *Config) IRK() ([16]byte, error) {
	var k [16]byte
	b, err := hex.DecodeString(c.Privacy.IdentityKey)
	if err != nil {
		return k, errors.Wrap(err, "invalid identity key")
	}
	if len(b) != len(k) {
		return k, errors.Errorf("invalid identity key length %d", len(b))
	}
	copy(k[:], sliceops.SwapBuf(b))
	return k, nil
}

// Options converts c to host options.
func (c *Config) Options() ([]blehost.Option, error) {
	d := c.Dispatcher
	opts := []blehost.Option{
		blehost.OptTickPeriod(d.TickPeriod),
		blehost.OptQuickTickPeriod(d.QuickTickPeriod),
		blehost.OptMailboxSize(d.Mailbox),
		blehost.OptRegistryCapacity(d.EventRanges, d.Timers),
	}
	if d.PreloadGate {
		opts = append(opts, blehost.OptPreloadGate())
	}

	if c.Privacy.Enabled || c.Privacy.IdentityKey != "" {
		irk, err := c.IRK()
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			blehost.OptIdentityKey(irk),
			blehost.OptRotationInterval(c.Privacy.RotationInterval),
			blehost.OptPrivacy(c.Privacy.Enabled),
		)
	}

	if c.Bonds != "" {
		opts = append(opts, blehost.OptDeviceRecords(c.Bonds))
	}

	t := c.Transport
	switch t.Type {
	case TransportHCI:
		opts = append(opts, blehost.OptTransportHCISocket(t.Device))
	case TransportH4Socket:
		opts = append(opts, blehost.OptTransportH4Socket(t.Addr, t.Timeout))
	case TransportH4Uart:
		opts = append(opts, blehost.OptTransportH4Uart(t.Path, t.Baud))
	case TransportNone, "":
	default:
		return nil, errors.Errorf("unknown transport %q", t.Type)
	}
	return opts, nil
}
