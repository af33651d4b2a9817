package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgewire/internal/client"
)

// Client is the remotectl process configuration.
type Client struct {
	Client         client.Config
	RequestTimeout time.Duration
}

func DefaultClient() Client {
	return Client{
		Client:         client.DefaultConfig(),
		RequestTimeout: 10 * time.Second,
	}
}

type clientFile struct {
	Address         string `toml:"address"`
	PendingCapacity int    `toml:"pending_capacity"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	StopTimeout     string `toml:"stop_timeout"`
	RequestTimeout  string `toml:"request_timeout"`
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
}

// LoadClient overlays the keys present in path onto the defaults.
// An empty path yields the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load remotectl config: %w", err)
	}
	if err := rejectUndecoded("remotectl", meta); err != nil {
		return Client{}, err
	}

	if meta.IsDefined("address") {
		if addr := strings.TrimSpace(raw.Address); addr != "" {
			cfg.Client.Address = addr
		}
	}
	if meta.IsDefined("pending_capacity") {
		if raw.PendingCapacity <= 0 {
			return Client{}, fmt.Errorf("pending_capacity must be positive, got %d", raw.PendingCapacity)
		}
		cfg.Client.PendingCapacity = raw.PendingCapacity
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Client.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	if err := overlayDurations(meta, []durationKey{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Client.Session.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Client.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Client.Session.WriteTimeout},
		{"stop_timeout", raw.StopTimeout, &cfg.Client.StopTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	}); err != nil {
		return Client{}, err
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultClient().RequestTimeout
	}
	cfg.Client = cfg.Client.WithDefaults()
	return cfg, nil
}
