package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindDaemon = "remoted"
	KindClient = "remotectl"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDaemon:
		return daemonTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as a config of the given kind.
func Validate(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDaemon:
		_, err := LoadDaemon(path)
		return err
	case KindClient:
		_, err := LoadClient(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const daemonTemplate = `addr = ":7182"
inbound_capacity = 64
error_log_capacity = 100
workers = 4
metrics_addr = "127.0.0.1:9182"
read_timeout = "0s"
write_timeout = "0s"
disconnect_timeout = "5s"
stop_timeout = "5s"
max_payload_bytes = 16777216
`

const clientTemplate = `address = "localhost:7182"
pending_capacity = 64
connect_timeout = "5s"
read_timeout = "0s"
write_timeout = "0s"
stop_timeout = "2s"
request_timeout = "10s"
max_payload_bytes = 16777216
`
