package config

import (
	"reflect"
	"strings"

	logx "wqbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus log-safe
// attributes. Secrets (token, cookie, passwords) are reported only as *_set flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.timeout", newCfg.Feed.Timeout),
			logx.Int("feed.retry_max", newCfg.Feed.RetryMax),
			logx.Bool("feed.cookie_set", strings.TrimSpace(newCfg.Feed.Cookie) != ""),
			logx.Bool("feed.cookie_changed", oldCfg.Feed.Cookie != newCfg.Feed.Cookie),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.at", newCfg.Schedule.At),
			logx.String("schedule.cron", newCfg.Schedule.Cron),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
		)
	}
	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.State.Driver))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.token_set", newCfg.Status.Token != ""),
		)
	}
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
	}
	return changed, attrs
}
