// Package commands holds the bot's chat commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wqbot/internal/announce"
	"wqbot/internal/dispatch"
	"wqbot/internal/state"
	"wqbot/internal/transport/telegram/router"
	logx "wqbot/pkg/logx"
)

const (
	expiredReply     = "⚠️ WorldQuant session expired. Refresh WQ_COOKIE and restart."
	cannotWatchReply = "⚠️ Cannot watch: WorldQuant session expired. Refresh WQ_COOKIE and restart."
	emptyFeedReply   = "No announcements found."
	fetchFailedReply = "⚠️ Could not reach WorldQuant right now. Try again later."
	usageHint        = "Use /watch, /unwatch, /latest, /recent5."
)

// Dispatcher is the slice of *dispatch.Dispatcher the commands use.
type Dispatcher interface {
	Subscribe(ctx context.Context, chatID int64) (dispatch.SubscribeResult, error)
	Unsubscribe(ctx context.Context, chatID int64) bool
	Latest(ctx context.Context, chatID int64) (announce.Announcement, bool, error)
	Recent(ctx context.Context, chatID int64, n int) ([]announce.Announcement, error)
	RunScheduledCycle(ctx context.Context) (dispatch.CycleReport, error)
	LastReport() (dispatch.CycleReport, bool)
}

type Schedule interface {
	Describe() string
	Next() (time.Time, bool)
}

type Counter interface {
	Counts() state.Counts
}

// Settings are read on every request so hot reloads apply immediately.
type Settings struct {
	RecentDefault int
	RecentMax     int
}

type Deps struct {
	Dispatch Dispatcher
	Schedule Schedule
	Store    Counter
	Settings func() Settings
	Log      logx.Logger
}

type handlers struct {
	Deps
}

// Build returns the full command set for the router.
func Build(d Deps) []router.Command {
	if d.Settings == nil {
		d.Settings = func() Settings { return Settings{RecentDefault: 5, RecentMax: 20} }
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{Deps: d}
	return []router.Command{
		{Name: "start", Description: "about this bot", Hidden: true, Handle: h.help},
		{Name: "help", Description: "list commands", Handle: h.help},
		{Name: "watch", Aliases: []string{"subscribe"}, Description: "enable daily updates", Handle: h.watch},
		{Name: "unwatch", Aliases: []string{"unsubscribe"}, Description: "disable daily updates", Handle: h.unwatch},
		{Name: "latest", Description: "newest announcement now", Handle: h.latest},
		{Name: "recent", Aliases: []string{"recent5"}, Description: "most recent announcements now", Usage: "/recent [n]", Handle: h.recent},
		{Name: "status", Description: "subscriber counts and last cycle", Access: router.AccessOwnerOnly, Handle: h.status},
		{Name: "cycle", Description: "run the scheduled cycle now", Access: router.AccessOwnerOnly, Timeout: 15 * time.Minute, Handle: h.cycle},
	}
}

func (h *handlers) help(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, HelpText(h.Schedule.Describe()))
}

// HelpText is the /start and /help reply.
func HelpText(schedule string) string {
	return "BRAIN Announcements Bot\n\n" +
		"/watch    – enable daily updates (" + schedule + ")\n" +
		"/unwatch  – disable daily updates\n" +
		"/latest   – newest announcement now\n" +
		"/recent5  – most recent 5 announcements now\n" +
		"/recent n – most recent n announcements now"
}

func (h *handlers) watch(ctx context.Context, req *router.Request) error {
	res, err := h.Dispatch.Subscribe(ctx, req.Chat.ChatID)
	var ae *dispatch.AuthExpiredError
	if errors.As(err, &ae) {
		return req.Reply(ctx, cannotWatchReply)
	}
	if err != nil {
		return err
	}
	text := "✅ Daily updates ON, runs " + h.Schedule.Describe() + "."
	if !res.Added {
		text = "✅ Already watching, runs " + h.Schedule.Describe() + "."
	}
	return req.Reply(ctx, text)
}

func (h *handlers) unwatch(ctx context.Context, req *router.Request) error {
	h.Dispatch.Unsubscribe(ctx, req.Chat.ChatID)
	return req.Reply(ctx, "🛑 Daily updates OFF.")
}

func (h *handlers) latest(ctx context.Context, req *router.Request) error {
	a, ok, err := h.Dispatch.Latest(ctx, req.Chat.ChatID)
	if err != nil {
		return h.fetchFailed(ctx, req, err)
	}
	if !ok {
		return req.Reply(ctx, emptyFeedReply)
	}
	return req.Reply(ctx, announce.Format(a))
}

func (h *handlers) recent(ctx context.Context, req *router.Request) error {
	n := RecentCount(req.Alias, req.Args, h.Settings())
	items, err := h.Dispatch.Recent(ctx, req.Chat.ChatID, n)
	if err != nil {
		return h.fetchFailed(ctx, req, err)
	}
	if len(items) == 0 {
		return req.Reply(ctx, emptyFeedReply)
	}
	lines := make([]string, 0, len(items))
	for _, a := range items {
		lines = append(lines, announce.SummaryLine(a))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// RecentCount resolves n for /recent: an explicit argument wins, then a
// numeric suffix on the alias ("recent5"), then the configured default.
// The result is clamped to [1, RecentMax].
func RecentCount(alias string, args []string, s Settings) int {
	n := s.RecentDefault
	if suffix := strings.TrimPrefix(alias, "recent"); suffix != "" {
		if v, err := strconv.Atoi(suffix); err == nil {
			n = v
		}
	}
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			n = v
		}
	}
	if n < 1 {
		n = 1
	}
	if s.RecentMax > 0 && n > s.RecentMax {
		n = s.RecentMax
	}
	return n
}

// fetchFailed turns an on-demand fetch error into a reply. Subscribers the
// breaker already notified get nothing more.
func (h *handlers) fetchFailed(ctx context.Context, req *router.Request, err error) error {
	var ae *dispatch.AuthExpiredError
	if errors.As(err, &ae) {
		if ae.WasNotified(req.Chat.ChatID) {
			return nil
		}
		return req.Reply(ctx, expiredReply)
	}
	req.Logger.Warn("on-demand fetch failed", logx.Err(err))
	return req.Reply(ctx, fetchFailedReply)
}

func (h *handlers) status(ctx context.Context, req *router.Request) error {
	c := h.Store.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Status\n")
	fmt.Fprintf(&b, "watching: %d\nmarkers: %d\nexpiry notified: %d\n", c.Watching, c.LastSeen, c.ExpiryNotified)
	fmt.Fprintf(&b, "schedule: %s\n", h.Schedule.Describe())
	if next, ok := h.Schedule.Next(); ok && !next.IsZero() {
		fmt.Fprintf(&b, "next run: %s\n", next.Format(time.RFC3339))
	}
	if rep, ok := h.Dispatch.LastReport(); ok {
		b.WriteString("\nlast cycle: " + DescribeReport(rep))
	} else {
		b.WriteString("\nlast cycle: none yet")
	}
	return req.Reply(ctx, b.String())
}

func (h *handlers) cycle(ctx context.Context, req *router.Request) error {
	rep, err := h.Dispatch.RunScheduledCycle(ctx)
	if errors.Is(err, dispatch.ErrCycleRunning) {
		return req.Reply(ctx, "⏳ A cycle is already running.")
	}
	text := "✅ Cycle done: " + DescribeReport(rep)
	if err != nil {
		text = "⚠️ Cycle failed: " + DescribeReport(rep)
	}
	return req.Reply(ctx, text)
}

// DescribeReport renders a one-line cycle summary.
func DescribeReport(r dispatch.CycleReport) string {
	when := r.StartedAt.Format(time.RFC3339)
	switch {
	case r.AuthExpired:
		return fmt.Sprintf("%s session expired, %d notified", when, r.Notified)
	case r.Error != "":
		return fmt.Sprintf("%s error: %s", when, r.Error)
	case r.Skipped != "":
		return fmt.Sprintf("%s skipped (%s)", when, strings.ReplaceAll(r.Skipped, "_", " "))
	}
	return fmt.Sprintf("%s %d watchers, %d items, %d delivered, %d failed, %d baselined in %s",
		when, r.Watchers, r.Items, r.Delivered, r.Failed, r.Baselined, r.Took.Round(time.Millisecond))
}

// Fallback answers plain text with a usage hint. In groups it only speaks
// when the bot is mentioned.
func Fallback(botUsername func() string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if req.Msg.IsGroup {
			name := strings.ToLower(strings.TrimPrefix(botUsername(), "@"))
			if name == "" || !strings.Contains(strings.ToLower(req.Msg.Text), "@"+name) {
				return nil
			}
		}
		return req.Reply(ctx, usageHint)
	}
}
