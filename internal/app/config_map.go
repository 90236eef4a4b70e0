package app

import (
	"strings"

	"wqbot/internal/commands"
	"wqbot/internal/config"
	"wqbot/internal/feed"
	"wqbot/internal/notifier"
	"wqbot/internal/scheduler"
	"wqbot/internal/state"
	"wqbot/internal/status"
	logx "wqbot/pkg/logx"
)

// The config package owns parsing and validation; these helpers only map
// already-validated sections onto component configs.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapFeedConfig(cfg *config.Config) feed.Config {
	return feed.Config{
		URL:        cfg.Feed.URL,
		Cookie:     cfg.Feed.Cookie,
		Headers:    cfg.Feed.Headers,
		Timeout:    cfg.Feed.TimeoutDuration(),
		RetryMax:   cfg.Feed.RetryMax,
		RetryDelay: cfg.Feed.RetryDelayDuration(),
		ListKeys:   cfg.Feed.ListKeys,
		StripHTML:  cfg.Feed.StripHTML,
	}
}

func mapStateConfig(cfg *config.Config) state.Config {
	return state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.State.Path,
		BusyTimeout: cfg.State.BusyTimeoutDuration(),
		Redis: state.RedisConfig{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
			Key:      cfg.State.Redis.Key,
		},
		GCS: state.GCSConfig{
			Bucket:          cfg.State.GCS.Bucket,
			Object:          cfg.State.GCS.Object,
			CredentialsFile: cfg.State.GCS.CredentialsFile,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: cfg.Notifier.SendTimeoutDuration(),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Schedule.Enabled,
		At:       cfg.Schedule.At,
		Cron:     cfg.Schedule.Cron,
		Timezone: cfg.Schedule.Timezone,
		Timeout:  cfg.Schedule.TimeoutDuration(),
	}
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.Addr,
		Token:   cfg.Status.Token,
		Pprof:   cfg.Status.Pprof,
	}
}

func mapCommandSettings(cfg *config.Config) commands.Settings {
	return commands.Settings{
		RecentDefault: cfg.Commands.RecentDefault,
		RecentMax:     cfg.Commands.RecentMax,
	}
}

// restartRequired lists changed sections that cannot be applied live.
func restartRequired(oldCfg, newCfg *config.Config) []string {
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if mapStateConfig(oldCfg) != mapStateConfig(newCfg) {
		out = append(out, "state")
	}
	return out
}

func botUsername(cfg *config.Config, fallback string) string {
	if name := strings.TrimSpace(cfg.Telegram.BotUsername); name != "" {
		return name
	}
	return fallback
}
