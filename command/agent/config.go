package agent

import (
	"fmt"
	"net"
	"strconv"

	multierror "github.com/hashicorp/go-multierror"
)

// Config is the runtime configuration of the gateway agent. The
// routing document (providers and model bindings) lives in its own
// YAML file at ConfigPath; Config itself is assembled from defaults
// and command line flags.
type Config struct {
	// BindAddr is the address the HTTP server listens on.
	BindAddr string

	// Port is the HTTP listen port.
	Port int

	// LogLevel controls the agent logger (TRACE, DEBUG, INFO, WARN,
	// ERROR).
	LogLevel string

	// LogDir is where the interaction log and its rotated backups are
	// written.
	LogDir string

	// ConfigPath is the YAML routing document with the api_provider
	// and model_config tables.
	ConfigPath string

	// StaticDir holds the admin UI assets served under /static.
	StaticDir string
}

// DefaultConfig returns the config an agent runs with when no flags
// are given.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:   "0.0.0.0",
		Port:       8100,
		LogLevel:   "INFO",
		LogDir:     "log",
		ConfigPath: "config.yaml",
		StaticDir:  "static",
	}
}

// Merge returns a new Config with b's non-zero fields layered over c.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.BindAddr != "" {
		result.BindAddr = b.BindAddr
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogDir != "" {
		result.LogDir = b.LogDir
	}
	if b.ConfigPath != "" {
		result.ConfigPath = b.ConfigPath
	}
	if b.StaticDir != "" {
		result.StaticDir = b.StaticDir
	}
	return &result
}

func (c *Config) Validate() error {
	var mErr multierror.Error
	if c.Port <= 0 || c.Port > 65535 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.ConfigPath == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("config path must be set"))
	}
	return mErr.ErrorOrNil()
}

// ListenAddr renders the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}
