package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate reports every problem found, joined. Call after ApplyDefaults.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token: empty (set it or %s)", EnvBotToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if u, err := url.Parse(strings.TrimSpace(c.Feed.URL)); err != nil || u.Scheme == "" || u.Host == "" {
		add("feed.url: not an absolute URL: %q", c.Feed.URL)
	}
	if d, err := ParseDurationField("feed.timeout", c.Feed.Timeout); err != nil {
		errs = append(errs, err)
	} else if d <= 0 {
		// Every fetch must be bounded.
		add("feed.timeout: must be > 0")
	}
	if _, err := ParseDurationField("feed.retry_delay", c.Feed.RetryDelay); err != nil {
		errs = append(errs, err)
	}
	if c.Feed.RetryMax < 0 {
		add("feed.retry_max: must be >= 0")
	}

	if _, err := time.LoadLocation(strings.TrimSpace(c.Schedule.Timezone)); err != nil {
		add("schedule.timezone: %v", err)
	}
	if spec := strings.TrimSpace(c.Schedule.Cron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add("schedule.cron: %v", err)
		}
	} else if _, _, err := ParseHHMM(c.Schedule.At); err != nil {
		add("schedule.at: %v", err)
	}
	if _, err := ParseDurationField("schedule.timeout", c.Schedule.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.State.Driver)) {
	case "file", "sqlite":
		if strings.TrimSpace(c.State.Path) == "" {
			add("state.path: empty")
		}
	case "redis":
		if strings.TrimSpace(c.State.Redis.Addr) == "" {
			add("state.redis.addr: empty")
		}
	case "gcs":
		if strings.TrimSpace(c.State.GCS.Bucket) == "" {
			add("state.gcs.bucket: empty")
		}
	case "memory":
	default:
		add("state.driver: unsupported %q", c.State.Driver)
	}
	if _, err := ParseDurationField("state.busy_timeout", c.State.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if d, err := ParseDurationField("notifier.send_timeout", c.Notifier.SendTimeout); err != nil {
		errs = append(errs, err)
	} else if d <= 0 {
		add("notifier.send_timeout: must be > 0")
	}

	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		add("logging.telegram.chat_id: required when enabled")
	}

	if c.Status.Enabled && strings.TrimSpace(c.Status.Addr) == "" {
		add("status.addr: empty")
	}

	return errors.Join(errs...)
}

// ParseHHMM parses "HH:MM" (24h).
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
