package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses the value at path. Blank is zero and negative
// values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when the field is blank or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}

// LoadLocation resolves an IANA zone name. Blank means the host zone.
func LoadLocation(path, tz string) (*time.Location, error) {
	if tz = strings.TrimSpace(tz); tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return loc, nil
}
