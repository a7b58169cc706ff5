package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value as a duration, substituting defaultValue
// when value is blank. Config keeps durations as strings so they round-trip
// through YAML and env vars unchanged.
func DurationOrDefault(value, defaultValue string) (time.Duration, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		raw = strings.TrimSpace(defaultValue)
	}
	if raw == "" {
		return 0, fmt.Errorf("no duration given and no default to fall back on")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}
