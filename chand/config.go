package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is chand's on-disk configuration: a small YAML file read at
// startup. Debug, Group, the socket paths and the vsock ports have
// flag-driven overrides in the cobra command (see main.go); DiagAddr and
// StatsInterval come only from the file or DefaultConfig. With no config
// file the daemon runs on DefaultConfig plus any flags.
type Config struct {
	Debug bool `yaml:"debug"`

	// ChanSocket and ShmSocket are Unix socket paths. Empty means "use
	// vsock instead" for that scheme (ChanVsockPort / ShmVsockPort).
	ChanSocket string `yaml:"chan_socket"`
	ShmSocket  string `yaml:"shm_socket"`

	ChanVsockPort uint32 `yaml:"chan_vsock_port"`
	ShmVsockPort  uint32 `yaml:"shm_vsock_port"`

	// Group is the Unix group allowed to connect to the scheme sockets,
	// matching lxd's socket-group-ownership convention (lxd/daemon.go's
	// group handling for the control socket).
	Group string `yaml:"group"`

	// DiagAddr is the diagnostics HTTP listen address. Empty disables the
	// diagnostics server.
	DiagAddr string `yaml:"diag_addr"`

	// StatsInterval is the cron spec for the stats ticker. Empty disables
	// it.
	StatsInterval string `yaml:"stats_interval"`
}

// DefaultConfig returns chand's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		ChanSocket:    "/run/chand/chan.sock",
		ShmSocket:     "/run/chand/shm.sock",
		DiagAddr:      "127.0.0.1:8787",
		StatsInterval: "@every 30s",
	}
}

// LoadConfig reads and unmarshals a YAML config file, starting from
// DefaultConfig so a file only needs to override what it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}

	return cfg, nil
}
