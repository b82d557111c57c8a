// Package config holds the previewd configuration surface.
//
// Every tunable of the preview subsystem lives here — port range bounds,
// session TTL, reaper sweep interval, health probe budgets, launch attempt
// caps — so that core logic carries no hardcoded constants. Configuration
// is loaded from previewd.yaml and falls back to defaults when the file is
// absent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/previewhq/preview-core/paths"
)

// Duration is a wrapper around time.Duration that implements YAML
// unmarshaling from human-readable strings like "20s", "10m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Config is the top-level previewd configuration.
type Config struct {
	// ListenAddr is the address the HTTP server binds (host:port).
	ListenAddr string `yaml:"listen_addr"`

	// PublicBaseURL is the origin external clients use to reach previewd.
	// Preview URLs in start responses are built from it. Defaults to
	// http://<ListenAddr>.
	PublicBaseURL string `yaml:"public_base_url"`

	// PortRangeStart and PortRangeEnd bound the backend port pool.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	// SessionTTL is how long an idle session lives before the reaper
	// reclaims it.
	SessionTTL Duration `yaml:"session_ttl"`

	// SweepInterval is the reaper's periodic sweep cadence.
	SweepInterval Duration `yaml:"sweep_interval"`

	// HealthBudget bounds one launch attempt's health probing.
	HealthBudget Duration `yaml:"health_budget"`

	// HealthPollInterval is the pause between probe ticks.
	HealthPollInterval Duration `yaml:"health_poll_interval"`

	// ProbeRequestTimeout bounds a single probe HTTP request.
	ProbeRequestTimeout Duration `yaml:"probe_request_timeout"`

	// MaxLaunchAttempts caps launch retries across strategies and ports.
	// The cap is explicit: a framework that genuinely cannot start must
	// surface launch_timeout rather than retry forever.
	MaxLaunchAttempts int `yaml:"max_launch_attempts"`

	// RequestTimeout is the wall-clock ceiling on one start-preview
	// request, covering extraction, install, and all launch attempts.
	RequestTimeout Duration `yaml:"request_timeout"`

	// InstallTimeout bounds the dependency install step.
	InstallTimeout Duration `yaml:"install_timeout"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		ListenAddr:          "127.0.0.1:4400",
		PortRangeStart:      4500,
		PortRangeEnd:        4999,
		SessionTTL:          Duration{30 * time.Minute},
		SweepInterval:       Duration{time.Minute},
		HealthBudget:        Duration{20 * time.Second},
		HealthPollInterval:  Duration{500 * time.Millisecond},
		ProbeRequestTimeout: Duration{2 * time.Second},
		MaxLaunchAttempts:   3,
		RequestTimeout:      Duration{3 * time.Minute},
		InstallTimeout:      Duration{2 * time.Minute},
	}
}

// Load reads the config from the default location, or returns defaults if
// the file doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config from an explicit path, or returns defaults if
// the file doesn't exist.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.PortRangeStart <= 0 || c.PortRangeStart > 65535 {
		return fmt.Errorf("port_range_start %d out of range", c.PortRangeStart)
	}
	if c.PortRangeEnd < c.PortRangeStart || c.PortRangeEnd > 65535 {
		return fmt.Errorf("port_range_end %d invalid (start %d)", c.PortRangeEnd, c.PortRangeStart)
	}
	if c.MaxLaunchAttempts < 1 {
		return fmt.Errorf("max_launch_attempts must be at least 1, got %d", c.MaxLaunchAttempts)
	}
	if c.SessionTTL.Duration <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.HealthBudget.Duration <= 0 {
		return fmt.Errorf("health_budget must be positive")
	}
	if c.HealthPollInterval.Duration <= 0 {
		return fmt.Errorf("health_poll_interval must be positive")
	}
	if c.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// BaseURL returns the public base URL, deriving one from ListenAddr when
// unset.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return "http://" + c.ListenAddr
}

// Save writes the config to the default location.
func (c *Config) Save() error {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return err
	}
	dir, err := paths.ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
