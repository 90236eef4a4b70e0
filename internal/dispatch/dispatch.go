// Package dispatch runs delivery cycles: fetch once, diff per subscriber,
// send, persist, and trip the session-expiry breaker when the feed rejects us.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"wqbot/internal/announce"
	"wqbot/internal/diff"
	"wqbot/internal/eventbus"
	"wqbot/internal/feed"
	"wqbot/internal/state"
	logx "wqbot/pkg/logx"
)

// ExpiredNotice is sent once per subscriber when the feed session dies.
const ExpiredNotice = "⚠️ WorldQuant session expired.\n\n" +
	"Daily updates have been turned OFF to avoid spam.\n" +
	"Fix: log in to BRAIN → copy a fresh `t=...` cookie → update WQ_COOKIE (or feed.cookie) → /watch again."

var ErrCycleRunning = errors.New("dispatch: cycle already running")

// Sender delivers one text message. Implementations bound each call with their own timeout.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// AuthExpiredError is returned by on-demand operations when the feed
// rejected the session. Notified lists the subscribers that just got
// ExpiredNotice from the breaker.
type AuthExpiredError struct {
	Notified []int64
	Err      error
}

func (e *AuthExpiredError) Error() string { return e.Err.Error() }
func (e *AuthExpiredError) Unwrap() error { return e.Err }

// WasNotified reports whether chatID already got the breaker notice.
func (e *AuthExpiredError) WasNotified(chatID int64) bool {
	return slices.Contains(e.Notified, chatID)
}

type Options struct {
	Fetcher feed.Fetcher
	Store   *state.Store
	Sender  Sender
	Bus     eventbus.Bus
	Log     logx.Logger
	// Now is replaceable in tests.
	Now func() time.Time
}

type Dispatcher struct {
	fetcher feed.Fetcher
	store   *state.Store
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	cycleMu sync.Mutex

	reportMu   sync.Mutex
	lastReport CycleReport
	hasReport  bool
}

func New(o Options) *Dispatcher {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Bus == nil {
		o.Bus = eventbus.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Dispatcher{
		fetcher: o.Fetcher,
		store:   o.Store,
		sender:  o.Sender,
		bus:     o.Bus,
		log:     o.Log.With(logx.String("comp", "dispatch")),
		now:     o.Now,
	}
}

// CycleReport summarizes one scheduled cycle.
type CycleReport struct {
	StartedAt   time.Time     `json:"started_at"`
	Took        time.Duration `json:"took_ns"`
	Skipped     string        `json:"skipped,omitempty"`
	Watchers    int           `json:"watchers"`
	Items       int           `json:"items"`
	Baselined   int           `json:"baselined"`
	Delivered   int           `json:"delivered"`
	Failed      int           `json:"failed"`
	AuthExpired bool          `json:"auth_expired,omitempty"`
	Notified    int           `json:"notified,omitempty"`
	Error       string        `json:"error,omitempty"`
}

const (
	SkipNoWatchers = "no_watchers"
	SkipEmptyFeed  = "empty_feed"
)

// DeliveryFailure is the payload of eventbus.DeliveryFailed.
type DeliveryFailure struct {
	ChatID         int64  `json:"chat_id"`
	AnnouncementID string `json:"announcement_id"`
	Error          string `json:"error"`
}

// AuthExpiry is the payload of eventbus.AuthExpired.
type AuthExpiry struct {
	Notified int `json:"notified"`
	Cleared  int `json:"cleared"`
}

// LastReport returns the most recent cycle report, if any cycle has run.
func (d *Dispatcher) LastReport() (CycleReport, bool) {
	d.reportMu.Lock()
	defer d.reportMu.Unlock()
	return d.lastReport, d.hasReport
}

// RunScheduledCycle delivers unseen items to every subscriber. Overlapping
// calls return ErrCycleRunning. Once started the cycle is not cancelled by
// ctx; each fetch and send is bounded by its own timeout.
func (d *Dispatcher) RunScheduledCycle(ctx context.Context) (CycleReport, error) {
	if !d.cycleMu.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer d.cycleMu.Unlock()
	ctx = context.WithoutCancel(ctx)

	rep := CycleReport{StartedAt: d.now()}
	err := d.runCycle(ctx, &rep)
	rep.Took = d.now().Sub(rep.StartedAt)
	if err != nil {
		rep.Error = err.Error()
	}

	d.reportMu.Lock()
	d.lastReport, d.hasReport = rep, true
	d.reportMu.Unlock()

	evType := eventbus.CycleCompleted
	if err != nil {
		evType = eventbus.CycleFailed
	}
	d.bus.Publish(eventbus.Event{Type: evType, Data: rep})
	return rep, err
}

// Drain waits for a running cycle to finish and keeps later cycles from
// starting; they return ErrCycleRunning. It gives up when ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if d.cycleMu.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (d *Dispatcher) runCycle(ctx context.Context, rep *CycleReport) error {
	watchers := d.store.Watching()
	rep.Watchers = len(watchers)
	if len(watchers) == 0 {
		rep.Skipped = SkipNoWatchers
		d.log.Debug("cycle skipped; nobody is watching")
		return nil
	}

	items, err := d.fetcher.Fetch(ctx)
	if err != nil {
		if feed.IsAuthExpired(err) {
			rep.AuthExpired = true
			rep.Notified = len(d.HandleAuthExpired(ctx))
			d.log.Warn("cycle aborted: feed session expired", logx.Int("notified", rep.Notified))
			return err
		}
		d.log.Error("cycle aborted: fetch failed", logx.String("kind", feed.KindOf(err).String()), logx.Err(err))
		return err
	}
	rep.Items = len(items)
	if len(items) == 0 {
		rep.Skipped = SkipEmptyFeed
		d.log.Info("cycle: feed is empty")
		return nil
	}

	for _, chatID := range watchers {
		if !d.store.IsWatching(chatID) {
			continue
		}
		last, seen := d.store.LastSeen(chatID)
		fresh, newest := diff.Since(items, last, seen)
		if !seen {
			d.store.SetLastSeen(chatID, newest)
			rep.Baselined++
			continue
		}
		for _, a := range fresh {
			if err := d.sender.Send(ctx, chatID, announce.Format(a)); err != nil {
				rep.Failed++
				d.log.Warn("delivery failed", logx.Int64("chat_id", chatID), logx.String("announcement", a.ID), logx.Err(err))
				d.bus.Publish(eventbus.Event{Type: eventbus.DeliveryFailed, Data: DeliveryFailure{
					ChatID: chatID, AnnouncementID: a.ID, Error: err.Error(),
				}})
				continue
			}
			rep.Delivered++
		}
		// Advanced even when sends failed; failed items are not retried.
		d.store.SetLastSeen(chatID, newest)
	}

	if err := d.store.Save(ctx); err != nil {
		return err
	}
	d.log.Info("cycle complete",
		logx.Int("watchers", rep.Watchers),
		logx.Int("items", rep.Items),
		logx.Int("baselined", rep.Baselined),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
	)
	return nil
}

// HandleAuthExpired tells each watching subscriber once per outage that the
// session expired, then clears the registry and persists. It returns the
// subscribers notified by this call.
func (d *Dispatcher) HandleAuthExpired(ctx context.Context) []int64 {
	ctx = context.WithoutCancel(ctx)
	var notified []int64
	for _, chatID := range d.store.Watching() {
		if !d.store.MarkExpiryNotified(chatID) {
			continue
		}
		notified = append(notified, chatID)
		if err := d.sender.Send(ctx, chatID, ExpiredNotice); err != nil {
			d.log.Warn("expiry notice failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	cleared := d.store.ClearWatching()
	_ = d.store.Save(ctx)

	d.log.Warn("feed session expired; subscriptions cleared", logx.Int("notified", len(notified)), logx.Int("cleared", cleared))
	d.bus.Publish(eventbus.Event{Type: eventbus.AuthExpired, Data: AuthExpiry{Notified: len(notified), Cleared: cleared}})
	return notified
}

// Recent fetches the feed and returns up to n newest items for chatID. The
// requester's marker is moved to the newest item and persisted.
func (d *Dispatcher) Recent(ctx context.Context, chatID int64, n int) ([]announce.Announcement, error) {
	ctx = context.WithoutCancel(ctx)
	if n < 1 {
		n = 1
	}
	items, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	d.store.SetLastSeen(chatID, items[0].ID)
	_ = d.store.Save(ctx)
	return items[:min(n, len(items))], nil
}

// Latest is Recent with n = 1. ok is false when the feed is empty.
func (d *Dispatcher) Latest(ctx context.Context, chatID int64) (a announce.Announcement, ok bool, err error) {
	items, err := d.Recent(ctx, chatID, 1)
	if err != nil || len(items) == 0 {
		return announce.Announcement{}, false, err
	}
	return items[0], true, nil
}

// SubscribeResult describes what Subscribe did.
type SubscribeResult struct {
	// Added is false when chatID was already watching.
	Added bool
	// Baselined is false when the feed could not be read; the next cycle
	// baselines instead of delivering.
	Baselined bool
	// FetchErr is the non-auth fetch failure, if any.
	FetchErr error
}

// Subscribe reads the feed first so the marker is set before the
// subscription is persisted. When the session is expired nothing is
// registered and an *AuthExpiredError is returned.
func (d *Dispatcher) Subscribe(ctx context.Context, chatID int64) (SubscribeResult, error) {
	ctx = context.WithoutCancel(ctx)
	items, err := d.fetcher.Fetch(ctx)
	if err != nil && feed.IsAuthExpired(err) {
		d.store.Unsubscribe(chatID)
		notified := d.HandleAuthExpired(ctx)
		return SubscribeResult{}, &AuthExpiredError{Notified: notified, Err: err}
	}

	res := SubscribeResult{Added: d.store.Subscribe(chatID)}
	switch {
	case err != nil:
		res.FetchErr = err
		d.log.Warn("subscribed without baseline", logx.Int64("chat_id", chatID), logx.Err(err))
	case len(items) > 0:
		d.store.SetLastSeen(chatID, items[0].ID)
		res.Baselined = true
	}
	_ = d.store.Save(ctx)
	d.log.Info("subscribed", logx.Int64("chat_id", chatID), logx.Bool("added", res.Added), logx.Bool("baselined", res.Baselined))
	return res, nil
}

// Unsubscribe removes chatID and persists. It reports whether chatID was watching.
func (d *Dispatcher) Unsubscribe(ctx context.Context, chatID int64) bool {
	had := d.store.Unsubscribe(chatID)
	_ = d.store.Save(context.WithoutCancel(ctx))
	d.log.Info("unsubscribed", logx.Int64("chat_id", chatID), logx.Bool("was_watching", had))
	return had
}

// fetch wraps Fetch for on-demand callers: an expired session trips the breaker.
func (d *Dispatcher) fetch(ctx context.Context) ([]announce.Announcement, error) {
	items, err := d.fetcher.Fetch(ctx)
	if err == nil {
		return items, nil
	}
	if feed.IsAuthExpired(err) {
		notified := d.HandleAuthExpired(ctx)
		return nil, &AuthExpiredError{Notified: notified, Err: err}
	}
	return nil, fmt.Errorf("fetch announcements: %w", err)
}
