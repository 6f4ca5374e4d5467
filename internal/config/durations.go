package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations holds every duration field of a Config, parsed. Zero means the
// field was left empty and the component default applies.
type Durations struct {
	PollTimeout    time.Duration // telegram.poll_timeout
	BusyTimeout    time.Duration // storage.busy_timeout
	TaskTimeout    time.Duration // task_engine.default_timeout
	MinInterval    time.Duration // delivery.min_interval
	ConnectTimeout time.Duration // delivery.connect_timeout
}

// Durations parses the Go duration strings of c. The error names the
// offending field. It expects ApplyDefaults to have run.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout, &d.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout, &d.BusyTimeout},
		{"task_engine.default_timeout", c.TaskEngine.DefaultTimeout, &d.TaskTimeout},
		{"delivery.min_interval", c.Delivery.MinInterval, &d.MinInterval},
		{"delivery.connect_timeout", c.Delivery.ConnectTimeout, &d.ConnectTimeout},
	} {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return Durations{}, fmt.Errorf("%s: invalid duration %q: %w", f.path, f.raw, err)
		}
		if v < 0 {
			return Durations{}, fmt.Errorf("%s: duration must be >= 0", f.path)
		}
		*f.dst = v
	}
	return d, nil
}

// Or returns d, or def when d is unset.
func Or(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
