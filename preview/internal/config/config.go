// Package config handles livepreview configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/livepreview/preview/internal/browser"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
	"github.com/hazyhaar/livepreview/safe"
)

// Config is the top-level livepreview configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Compile CompileConfig `yaml:"compile"`
	Session SessionConfig `yaml:"session"`
	Journal JournalConfig `yaml:"journal"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	MaxBody      int64    `yaml:"max_body"`      // bytes per request body
	RateLimit    int      `yaml:"rate_limit"`    // document submissions per client per minute; negative disables
	AllowOrigins []string `yaml:"allow_origins"` // websocket origins besides the server's own
}

// BrowserConfig controls the optional Chrome surface. Without it the
// preview renders HTML only: no PNG capture, no hit testing.
type BrowserConfig struct {
	Enabled        bool `yaml:"enabled"`
	browser.Config `yaml:",inline"`
}

// SandboxConfig controls rendering.
type SandboxConfig struct {
	MaxPasses      int              `yaml:"max_passes"`
	RenderBudget   time.Duration    `yaml:"render_budget"`
	Viewport       sandbox.Viewport `yaml:"viewport"`
	Stylesheet     string           `yaml:"stylesheet"`
	StylesheetFile string           `yaml:"stylesheet_file"` // relative to the config file
}

// CompileConfig controls the compiler.
type CompileConfig struct {
	Budget    time.Duration `yaml:"budget"`
	CacheSize int           `yaml:"cache_size"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxSessions int           `yaml:"max_sessions"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// JournalConfig controls the SQLite event journal. An empty path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type         string `yaml:"type"` // stdout | webhook
	URL          string `yaml:"url"`  // for webhook
	Retries      int    `yaml:"retries"`
	AllowPrivate bool   `yaml:"allow_private"` // permit loopback and private webhook hosts
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if f := cfg.Sandbox.StylesheetFile; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		css, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("config: stylesheet: %w", err)
		}
		cfg.Sandbox.Stylesheet = string(css)
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration errors defaults cannot fix.
func (c *Config) Validate() error {
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
			if err := safe.ValidateURL(s.URL, s.AllowPrivate); err != nil {
				return fmt.Errorf("config: sinks[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if c.Session.MaxWait < c.Session.Debounce {
		return fmt.Errorf("config: session.max_wait (%s) is shorter than session.debounce (%s)",
			c.Session.MaxWait, c.Session.Debounce)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 1 << 20
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 120
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
	if c.Sandbox.MaxPasses <= 0 {
		c.Sandbox.MaxPasses = 25
	}
	if c.Sandbox.RenderBudget <= 0 {
		c.Sandbox.RenderBudget = 2 * time.Second
	}
	if c.Sandbox.Viewport.Width <= 0 {
		c.Sandbox.Viewport.Width = 1280
	}
	if c.Sandbox.Viewport.Height <= 0 {
		c.Sandbox.Viewport.Height = 800
	}
	if c.Compile.Budget <= 0 {
		c.Compile.Budget = 50 * time.Millisecond
	}
	if c.Compile.CacheSize <= 0 {
		c.Compile.CacheSize = 64
	}
	if c.Session.Debounce <= 0 {
		c.Session.Debounce = 150 * time.Millisecond
	}
	if c.Session.MaxWait <= 0 {
		c.Session.MaxWait = max(time.Second, 4*c.Session.Debounce)
	}
	if c.Session.MaxSessions <= 0 {
		c.Session.MaxSessions = 32
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
	if c.Journal.Retention <= 0 {
		c.Journal.Retention = 72 * time.Hour
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == 0 {
			c.Sinks[i].Retries = 3
		}
	}
}
