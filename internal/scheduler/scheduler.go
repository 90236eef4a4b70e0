// Package scheduler triggers one job at a daily wall-clock time (or a cron
// expression) in a configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "wqbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// At is "HH:MM"; ignored when Cron is set.
	At       string
	Cron     string
	Timezone string
	// Timeout is set as the job context deadline and runs that take longer
	// are logged. Jobs that detach from ctx are not interrupted by it.
	Timeout time.Duration
}

type Job func(ctx context.Context) error

type Scheduler struct {
	log    logx.Logger
	job    Job
	parser cron.Parser

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	loc   *time.Location
	entry cron.EntryID
	spec  string

	// fire reads these without s.mu so a tick never waits on Apply or Stop.
	base    atomic.Pointer[context.Context]
	timeout atomic.Int64

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg Config, job Job, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log: log.With(logx.String("comp", "scheduler")),
		job: job,
		cfg: cfg,
		// SecondOptional accepts both 5- and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.timeout.Store(int64(cfg.Timeout))
	return s
}

// Spec converts cfg into a cron expression.
func Spec(cfg Config) (string, error) {
	if c := strings.TrimSpace(cfg.Cron); c != "" {
		return c, nil
	}
	h, m, err := parseHHMM(cfg.At)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// Start registers the job. It is a no-op when disabled or already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base.Store(&ctx)
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	spec, err := Spec(s.cfg)
	if err != nil {
		return err
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := c.AddFunc(spec, s.fire)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.c, s.loc, s.entry, s.spec = c, loc, id, spec

	s.log.Info("scheduler started",
		logx.String("spec", spec),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// detachLocked stops triggering and returns the done context of the old
// cron. Callers wait on it after releasing s.mu.
func (s *Scheduler) detachLocked() context.Context {
	if s.c == nil {
		return nil
	}
	done := s.c.Stop()
	s.c = nil
	return done
}

// Stop stops triggering and waits for a running job, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	stopped := s.detachLocked()
	s.mu.Unlock()
	if stopped != nil {
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop: job still running")
	}
}

// Apply re-registers the job when the schedule, timezone or enabled flag
// changed. It does not wait for a run in progress; the overlap guard keeps
// the new schedule from starting a second one.
func (s *Scheduler) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	s.timeout.Store(int64(cfg.Timeout))
	if s.base.Load() == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.At == cfg.At && old.Cron == cfg.Cron && old.Timezone == cfg.Timezone && s.c != nil {
		return nil
	}
	s.detachLocked()
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	return s.startLocked()
}

// Next returns the next trigger time, if scheduled.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	return s.c.Entry(s.entry).Next, true
}

// Describe renders the schedule for humans, e.g. "daily at 00:00 (America/New_York)".
func (s *Scheduler) Describe() string {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return Describe(cfg)
}

func Describe(cfg Config) string {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "Local"
	}
	if !cfg.Enabled {
		return "disabled"
	}
	if c := strings.TrimSpace(cfg.Cron); c != "" {
		return "cron " + c + " (" + tz + ")"
	}
	return "daily at " + strings.TrimSpace(cfg.At) + " (" + tz + ")"
}

// RunNow runs the job outside the schedule, honoring the overlap guard.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx)
}

func (s *Scheduler) fire() {
	base := s.base.Load()
	if base == nil {
		return
	}
	ctx := *base
	if ctx.Err() != nil {
		return
	}
	if err := s.run(ctx); err != nil && err != ErrSkipped {
		s.log.Warn("scheduled run failed", logx.Err(err))
	}
}

var ErrSkipped = fmt.Errorf("scheduler: previous run still in progress")

func (s *Scheduler) run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("run skipped; previous run still in progress")
		return ErrSkipped
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()

	timeout := time.Duration(s.timeout.Load())
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.Any("panic", r))
		}
	}()
	err := s.job(ctx)
	took := time.Since(start)
	if timeout > 0 && took > timeout {
		s.log.Warn("run exceeded timeout", logx.Duration("took", took), logx.Duration("timeout", timeout))
	}
	s.log.Debug("run finished", logx.Duration("took", took), logx.Err(err))
	return err
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseHHMM(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
