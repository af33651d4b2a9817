// Package config loads the TOML files of the remoted and remotectl commands and
// writes their templates. Keys present in a file overlay the package defaults;
// absent keys keep them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type durationKey struct {
	key string
	raw string
	dst *time.Duration
}

func overlayDurations(meta toml.MetaData, keys []durationKey) error {
	for _, d := range keys {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", d.key, v)
		}
		*d.dst = v
	}
	return nil
}

func rejectUndecoded(kind string, meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load %s config: unknown key %q", kind, undecoded[0].String())
	}
	return nil
}
