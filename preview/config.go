package preview

import (
	"github.com/hazyhaar/livepreview/preview/internal/config"
)

// Config is the top-level livepreview configuration. Re-exported from internal.
type Config = config.Config

// ServerConfig controls the HTTP API.
type ServerConfig = config.ServerConfig

// BrowserConfig controls the optional Chrome surface.
type BrowserConfig = config.BrowserConfig

// SandboxConfig controls rendering.
type SandboxConfig = config.SandboxConfig

// CompileConfig controls the compiler.
type CompileConfig = config.CompileConfig

// SessionConfig controls session lifecycle.
type SessionConfig = config.SessionConfig

// JournalConfig controls the SQLite event journal.
type JournalConfig = config.JournalConfig

// SinkConfig defines an event output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return config.Default()
}
