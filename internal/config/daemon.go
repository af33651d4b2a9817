package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgewire/internal/server"
)

// Daemon is the remoted process configuration.
type Daemon struct {
	Server      server.Config
	Workers     int
	MetricsAddr string
}

func DefaultDaemon() Daemon {
	return Daemon{
		Server:      server.DefaultConfig(),
		Workers:     4,
		MetricsAddr: "127.0.0.1:9182",
	}
}

type daemonFile struct {
	Addr              string `toml:"addr"`
	InboundCapacity   int    `toml:"inbound_capacity"`
	ErrorLogCapacity  int    `toml:"error_log_capacity"`
	Workers           int    `toml:"workers"`
	MetricsAddr       string `toml:"metrics_addr"`
	ReadTimeout       string `toml:"read_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	DisconnectTimeout string `toml:"disconnect_timeout"`
	StopTimeout       string `toml:"stop_timeout"`
	MaxPayloadBytes   int    `toml:"max_payload_bytes"`
}

// LoadDaemon overlays the keys present in path onto the defaults.
// An empty path yields the defaults.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw daemonFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Daemon{}, fmt.Errorf("load remoted config: %w", err)
	}
	if err := rejectUndecoded("remoted", meta); err != nil {
		return Daemon{}, err
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Server.ListenAddr = addr
		}
	}
	if meta.IsDefined("inbound_capacity") {
		if raw.InboundCapacity <= 0 {
			return Daemon{}, fmt.Errorf("inbound_capacity must be positive, got %d", raw.InboundCapacity)
		}
		cfg.Server.InboundCapacity = raw.InboundCapacity
	}
	if meta.IsDefined("error_log_capacity") {
		cfg.Server.ErrorLogCapacity = raw.ErrorLogCapacity
	}
	if meta.IsDefined("workers") {
		if raw.Workers <= 0 {
			return Daemon{}, fmt.Errorf("workers must be positive, got %d", raw.Workers)
		}
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Server.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	if err := overlayDurations(meta, []durationKey{
		{"read_timeout", raw.ReadTimeout, &cfg.Server.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Server.Session.WriteTimeout},
		{"disconnect_timeout", raw.DisconnectTimeout, &cfg.Server.DisconnectTimeout},
		{"stop_timeout", raw.StopTimeout, &cfg.Server.StopTimeout},
	}); err != nil {
		return Daemon{}, err
	}

	cfg.Server = cfg.Server.WithDefaults()
	return cfg, nil
}
