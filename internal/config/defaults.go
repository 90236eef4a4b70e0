package config

import "strings"

const (
	DefaultFeedURL  = "https://api.worldquantbrain.com/users/self/messages?type=ANNOUNCEMENT&order=-dateCreated&limit=50&offset=0"
	DefaultTimezone = "America/New_York"
	DefaultAt       = "00:00"
)

// DefaultHeaders mirror what the platform's web client sends.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent": "Mozilla/5.0",
		"Accept":     "application/json, text/plain, */*",
		"Referer":    "https://platform.worldquantbrain.com/",
		"Origin":     "https://platform.worldquantbrain.com",
	}
}

// DefaultListKeys are searched in order when the feed returns an object.
func DefaultListKeys() []string { return []string{"results", "data", "items", "messages"} }

// ApplyDefaults fills omitted fields in place. Explicit values are kept.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}

	if strings.TrimSpace(c.Feed.URL) == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if strings.TrimSpace(c.Feed.Timeout) == "" {
		c.Feed.Timeout = "30s"
	}
	if c.Feed.Headers == nil {
		c.Feed.Headers = DefaultHeaders()
	}
	if len(c.Feed.ListKeys) == 0 {
		c.Feed.ListKeys = DefaultListKeys()
	}
	if strings.TrimSpace(c.Feed.RetryDelay) == "" {
		c.Feed.RetryDelay = "2s"
	}

	if strings.TrimSpace(c.Schedule.At) == "" && strings.TrimSpace(c.Schedule.Cron) == "" {
		c.Schedule.At = DefaultAt
	}
	if strings.TrimSpace(c.Schedule.Timezone) == "" {
		c.Schedule.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Schedule.Timeout) == "" {
		c.Schedule.Timeout = "10m"
	}

	if strings.TrimSpace(c.State.Driver) == "" {
		c.State.Driver = "file"
	}
	if strings.TrimSpace(c.State.Path) == "" {
		switch strings.ToLower(c.State.Driver) {
		case "sqlite":
			c.State.Path = "./state.db"
		default:
			c.State.Path = "./state.json"
		}
	}
	if strings.TrimSpace(c.State.Redis.Key) == "" {
		c.State.Redis.Key = "wqbot:state"
	}
	if strings.TrimSpace(c.State.GCS.Object) == "" {
		c.State.GCS.Object = "wqbot/state.json"
	}

	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 20
	}
	if strings.TrimSpace(c.Notifier.SendTimeout) == "" {
		c.Notifier.SendTimeout = "15s"
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	if strings.TrimSpace(c.Status.Addr) == "" {
		c.Status.Addr = "127.0.0.1:8087"
	}

	if c.Commands.RecentDefault <= 0 {
		c.Commands.RecentDefault = 5
	}
	if c.Commands.RecentMax <= 0 {
		c.Commands.RecentMax = 20
	}
	if c.Commands.RecentDefault > c.Commands.RecentMax {
		c.Commands.RecentDefault = c.Commands.RecentMax
	}
}
