package navwatch

import (
	"github.com/hazyhaar/spawatch/navwatch/internal/config"
)

// Config is the top-level navwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// TimingConfig holds the detection delays.
type TimingConfig = config.TimingConfig

// PageConfig defines a page to observe.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// PagesSchema creates the watch_pages registry table.
const PagesSchema = config.Schema

// LoadConfigFile reads a YAML configuration file, applying NAVWATCH_*
// environment overrides and defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration from defaults and the environment.
func DefaultConfig() (*Config, error) {
	return config.Default()
}

// LoadPages reads the active rows of the watch_pages registry.
var LoadPages = config.LoadPages

// WatchPages builds a watcher that fires when another connection writes to
// the watch_pages registry.
var WatchPages = config.WatchPages
