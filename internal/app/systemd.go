package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "wqbot/pkg/logx"
)

// sdNotify sends a state string to systemd. Outside a notify unit it is a no-op.
func sdNotify(log logx.Logger, st string) {
	sent, err := daemon.SdNotify(false, st)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", st), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", st))
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx is done.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	if every < time.Second {
		every = time.Second
	}
	log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
