package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// mustDuration is for fields already checked by Validate.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c FeedConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout, 30*time.Second)
}

func (c FeedConfig) RetryDelayDuration() time.Duration {
	return mustDuration(c.RetryDelay, 2*time.Second)
}

func (c ScheduleConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout, 10*time.Minute)
}

func (c NotifierConfig) SendTimeoutDuration() time.Duration {
	return mustDuration(c.SendTimeout, 15*time.Second)
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(c.PollTimeout, 10*time.Second)
}

func (c StateConfig) BusyTimeoutDuration() time.Duration {
	return mustDuration(c.BusyTimeout, 5*time.Second)
}
