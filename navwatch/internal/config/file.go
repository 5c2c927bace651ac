// Package config handles navwatch configuration from a YAML file, NAVWATCH_*
// environment overrides, and an optional SQLite page registry.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level navwatch configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Timing  TimingConfig  `yaml:"timing"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	HTTP    HTTPConfig    `yaml:"http"`
	Journal JournalConfig `yaml:"journal"`

	// PagesDB is a SQLite file holding a watch_pages table. Pages found
	// there are observed in addition to Pages, and reloaded on change.
	PagesDB string `yaml:"pages_db" env:"NAVWATCH_PAGES_DB"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote" env:"NAVWATCH_BROWSER_REMOTE"`
	Mode             string        `yaml:"mode" env:"NAVWATCH_BROWSER_MODE"` // headless | headful
	MemoryLimit      int64         `yaml:"memory_limit" env:"NAVWATCH_BROWSER_MEMORY_LIMIT"`
	RecycleInterval  time.Duration `yaml:"recycle_interval" env:"NAVWATCH_BROWSER_RECYCLE_INTERVAL"`
	ResourceBlocking []string      `yaml:"resource_blocking" env:"NAVWATCH_BROWSER_RESOURCE_BLOCKING" envSeparator:","`
	XvfbDisplay      string        `yaml:"xvfb_display" env:"NAVWATCH_BROWSER_XVFB_DISPLAY"`
	NavTimeout       time.Duration `yaml:"nav_timeout" env:"NAVWATCH_BROWSER_NAV_TIMEOUT"`
}

// TimingConfig holds the detection delays.
type TimingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"NAVWATCH_POLL_INTERVAL"`
	HistoryDelay time.Duration `yaml:"history_delay" env:"NAVWATCH_HISTORY_DELAY"`
	SettleDelay  time.Duration `yaml:"settle_delay" env:"NAVWATCH_SETTLE_DELAY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"NAVWATCH_READ_TIMEOUT"`
}

// PageConfig defines a page to observe.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type      string `yaml:"type"` // stdout | webhook | journal
	URL       string `yaml:"url"`  // for webhook
	QueueSize int    `yaml:"queue_size"`
	// Retries for webhook delivery. Unset means 3; 0 disables retrying.
	Retries *int `yaml:"retries"`
}

// HTTPConfig controls the read-only status server. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"NAVWATCH_HTTP_ADDR"`
}

// JournalConfig locates the SQLite event journal.
type JournalConfig struct {
	Path string `yaml:"path" env:"NAVWATCH_JOURNAL_PATH"`
	// Retention prunes events older than this. 0 keeps everything.
	Retention time.Duration `yaml:"retention" env:"NAVWATCH_JOURNAL_RETENTION"`
}

// LoadFile reads a YAML configuration file, then applies environment
// overrides and defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built from defaults and the environment
// only, for single-page runs without a file.
func Default() (*Config, error) {
	cfg := &Config{
		Browser: BrowserConfig{ResourceBlocking: []string{"images", "fonts", "media"}},
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Timing.PollInterval <= 0 {
		c.Timing.PollInterval = 5 * time.Second
	}
	if c.Timing.HistoryDelay <= 0 {
		c.Timing.HistoryDelay = 100 * time.Millisecond
	}
	if c.Timing.SettleDelay <= 0 {
		c.Timing.SettleDelay = 2 * time.Second
	}
	if c.Timing.ReadTimeout <= 0 {
		c.Timing.ReadTimeout = 5 * time.Second
	}
	for i := range c.Sinks {
		if c.Sinks[i].QueueSize <= 0 {
			c.Sinks[i].QueueSize = 256
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == nil {
			n := 3
			c.Sinks[i].Retries = &n
		}
	}
}

// Validate reports configuration errors that would only surface at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode))
	}
	for i, p := range c.Pages {
		if err := checkURL(p.URL); err != nil {
			errs = append(errs, fmt.Errorf("config: pages[%d]: %w", i, err))
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if err := checkURL(s.URL); err != nil {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook %w", i, err))
			}
			if s.Retries != nil && *s.Retries < 0 {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: retries %d: want >= 0", i, *s.Retries))
			}
		case "journal":
			if c.Journal.Path == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: journal sink needs journal.path", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}

// checkURL accepts absolute http and https URLs. Private and loopback hosts
// are allowed: watching an internal application is a normal use.
func checkURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q: no host", raw)
	}
	return nil
}
