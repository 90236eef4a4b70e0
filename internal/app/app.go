// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wqbot/internal/commands"
	"wqbot/internal/config"
	"wqbot/internal/dispatch"
	"wqbot/internal/eventbus"
	"wqbot/internal/feed"
	"wqbot/internal/notifier"
	"wqbot/internal/runtime/supervisor"
	"wqbot/internal/scheduler"
	"wqbot/internal/state"
	"wqbot/internal/status"
	kit "wqbot/internal/transport"
	telegram "wqbot/internal/transport/telegram/adapter"
	"wqbot/internal/transport/telegram/router"
	logx "wqbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *state.Store
	feed    *feed.Client
	notif   *notifier.Notifier
	disp    *dispatch.Dispatcher
	sched   *scheduler.Scheduler
	adapter *telegram.Adapter
	router  *router.Manager
	status  *status.Server

	inbox chan kit.Message
}

// New loads the config and builds every component without starting anything
// that talks to Telegram inbound.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.NewService(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	bus := eventbus.New()

	store, err := OpenStore(ctx, cfg, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	notif := notifier.New(mapNotifierConfig(cfg), ad, root)
	logSvc.SetSender(notif)

	fc := feed.New(mapFeedConfig(cfg), &http.Client{}, root.With(logx.String("comp", "feed")))

	disp := dispatch.New(dispatch.Options{
		Fetcher: fc,
		Store:   store,
		Sender:  notif,
		Bus:     bus,
		Log:     root.With(logx.String("comp", "dispatch")),
	})

	sched := scheduler.New(mapSchedulerConfig(cfg), func(ctx context.Context) error {
		_, err := disp.RunScheduledCycle(ctx)
		return err
	}, root)

	rt := router.New(root.With(logx.String("comp", "commands")), ad, router.Options{})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		feed:    fc,
		notif:   notif,
		disp:    disp,
		sched:   sched,
		adapter: ad,
		router:  rt,
		inbox:   make(chan kit.Message, 256),
	}
	a.status = status.New(statusSource{a}, root)
	a.configureRouter(cfg)
	return a, nil
}

// OpenStore opens the configured backend and loads the persisted snapshot.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*state.Store, error) {
	stLog := log.With(logx.String("comp", "state"))
	backend, err := state.Open(ctx, mapStateConfig(cfg), stLog)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	store := state.New(backend, stLog)
	if err := store.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return store, nil
}

func (a *App) configureRouter(cfg *config.Config) {
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetBotUsername(botUsername(cfg, a.adapter.Username()))
	a.router.SetCommands(commands.Build(commands.Deps{
		Dispatch: a.disp,
		Schedule: a.sched,
		Store:    a.store,
		Settings: func() commands.Settings { return mapCommandSettings(a.cfgm.Get()) },
		Log:      a.log,
	}))
	a.router.SetFallback(commands.Fallback(a.router.BotUsername))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.adapter.Start(runCtx, a.inbox); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.inbox)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		if err := a.router.PublishMenu(c); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	if err := a.sched.Start(runCtx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	cfg := a.cfgm.Get()
	if err := a.status.Apply(runCtx, mapStatusConfig(cfg)); err != nil {
		a.log.Warn("status server not started", logx.String("addr", cfg.Status.Addr), logx.Err(err))
	}
	a.sup.Go0("status.events", func(c context.Context) { a.status.Consume(c, a.bus) })

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started",
		logx.String("schedule", a.sched.Describe()),
		logx.Int("watching", a.store.Counts().Watching),
		logx.String("bot", a.router.BotUsername()),
	)
	return nil
}

// applyConfig pushes a reloaded config into every live component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if r := restartRequired(oldCfg, newCfg); len(r) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", r))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.feed.Apply(mapFeedConfig(newCfg))
	a.notif.Apply(mapNotifierConfig(newCfg))
	if err := a.sched.Apply(mapSchedulerConfig(newCfg)); err != nil {
		a.log.Warn("invalid schedule; scheduler stopped", logx.Err(err))
	}
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.router.SetBotUsername(botUsername(newCfg, a.adapter.Username()))
	if err := a.status.Apply(ctx, mapStatusConfig(newCfg)); err != nil {
		a.log.Warn("status server apply failed", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// RunCycle runs one scheduled cycle outside the daemon (one-shot mode).
func (a *App) RunCycle(ctx context.Context) (dispatch.CycleReport, error) {
	return a.disp.RunScheduledCycle(ctx)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	if a.sup != nil {
		a.sup.Cancel()
	}

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// A running cycle finishes its sends before the store is closed.
	step("scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.sup != nil {
		step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	var drained atomic.Bool
	step("dispatch", 30*time.Second, func(c context.Context) error {
		if err := a.disp.Drain(c); err != nil {
			return err
		}
		drained.Store(true)
		return nil
	})
	step("state", 5*time.Second, func(c context.Context) error {
		err := a.store.Save(c)
		if !drained.Load() {
			// The cycle still owns the store and saves when it ends.
			a.log.Warn("cycle still running; leaving state backend open")
			return err
		}
		if cerr := a.store.Close(); err == nil {
			err = cerr
		}
		return err
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// statusSource adapts the app's components for the status server.
type statusSource struct{ a *App }

func (s statusSource) Counts() state.Counts { return s.a.store.Counts() }
func (s statusSource) LastReport() (dispatch.CycleReport, bool) {
	return s.a.disp.LastReport()
}
func (s statusSource) RunScheduledCycle(ctx context.Context) (dispatch.CycleReport, error) {
	return s.a.disp.RunScheduledCycle(ctx)
}
func (s statusSource) Next() (time.Time, bool)       { return s.a.sched.Next() }
func (s statusSource) Schedule() string              { return s.a.sched.Describe() }
func (s statusSource) NotifierStats() notifier.Stats { return s.a.notif.Stats() }
