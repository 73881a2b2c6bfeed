package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	coretypes "github.com/projecteru2/core/types"

	"github.com/projecteru2/appslot/types"
)

const (
	// AppRootDir is the directory under RootDir that holds one working directory per app.
	AppRootDir = "AppRoot"
	// DefaultAppConfigFile is the app config file looked up in the working directory
	// when the configFile option is absent.
	DefaultAppConfigFile = "App.config"
)

// Config holds global appslot configuration.
type Config struct {
	// RootDir is the base directory for app working directories and host state.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// PoolSize bounds concurrent slot start/stop operations.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
	// PollIntervalSeconds is how often the host collects status from every slot.
	PollIntervalSeconds int `json:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	// StopTimeoutSeconds is the grace period a hosted process gets to exit
	// after a shutdown request before it is terminated.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`
	// StopWaitSeconds bounds how long Stop blocks waiting for teardown. Zero waits forever.
	StopWaitSeconds int `json:"stop_wait_seconds" mapstructure:"stop_wait_seconds"`
	// SocketWaitSeconds is how long a freshly launched app gets to open its control socket.
	SocketWaitSeconds int `json:"socket_wait_seconds" mapstructure:"socket_wait_seconds"`
	// MetricsAddr enables the Prometheus endpoint when set (e.g. ":9108").
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
	// Apps lists the slots this host runs.
	Apps []types.ServerConfig `json:"apps" mapstructure:"apps"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:             "/var/lib/appslot",
		PoolSize:            runtime.NumCPU(),
		PollIntervalSeconds: 10,
		StopTimeoutSeconds:  30,
		SocketWaitSeconds:   10,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads JSON configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()
	return conf, nil
}

// Normalize replaces unset or invalid values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.RootDir == "" {
		c.RootDir = def.RootDir
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = def.StopTimeoutSeconds
	}
	if c.SocketWaitSeconds <= 0 {
		c.SocketWaitSeconds = def.SocketWaitSeconds
	}
	if c.StopWaitSeconds < 0 {
		c.StopWaitSeconds = 0
	}
}

// BaseDir is the process-wide base directory app working directories live under.
func (c *Config) BaseDir() string { return c.RootDir }

// AppRoot returns the directory holding all default app working directories.
func (c *Config) AppRoot() string { return filepath.Join(c.RootDir, AppRootDir) }

// HostLock is the lock file guarding a root directory against a second host process.
func (c *Config) HostLock() string { return filepath.Join(c.RootDir, "appslot.lock") }

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func (c *Config) StopWait() time.Duration {
	return time.Duration(c.StopWaitSeconds) * time.Second
}

func (c *Config) SocketWait() time.Duration {
	return time.Duration(c.SocketWaitSeconds) * time.Second
}

// AppWorkingDir returns the default working directory for an app under base.
func AppWorkingDir(base, name string) string {
	return filepath.Join(base, AppRootDir, name)
}

// WorkingDir returns the working directory of app: its appWorkingDir option
// when set, the default under base otherwise.
func WorkingDir(base string, app *types.ServerConfig) string {
	if dir := app.Option(types.OptionAppWorkingDir); dir != "" {
		return dir
	}
	return AppWorkingDir(base, app.Name)
}
