// Package notifier sends outbound text through the transport adapter with a
// global rate limit and a per-message timeout.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "wqbot/internal/transport"
	logx "wqbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

// TextSender is the part of transport.Adapter the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	// RatePerSec is the global token bucket rate; the burst equals the rate.
	RatePerSec  int
	SendTimeout time.Duration
}

// Stats counts sends since start.
type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

type Notifier struct {
	log logx.Logger

	mu      sync.RWMutex
	adapter TextSender
	cfg     Config
	limiter *rate.Limiter

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config, adapter TextSender, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log.With(logx.String("comp", "notifier")), adapter: adapter}
	n.Apply(cfg)
	return n
}

func (n *Notifier) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	n.mu.Lock()
	n.cfg = cfg
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	n.mu.Unlock()
}

// SetAdapter installs the adapter once the transport is up.
func (n *Notifier) SetAdapter(a TextSender) {
	n.mu.Lock()
	n.adapter = a
	n.mu.Unlock()
}

// Send delivers text as plain text with link previews off. Waiting for the
// rate limiter counts against the send timeout.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	n.mu.RLock()
	adapter, lim, timeout := n.adapter, n.limiter, n.cfg.SendTimeout
	n.mu.RUnlock()
	if adapter == nil {
		return ErrNoAdapter
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	if err := lim.Wait(sctx); err != nil {
		n.count(false)
		return err
	}
	_, err := adapter.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	n.count(err == nil)
	if err != nil {
		n.log.Debug("send failed", logx.Int64("chat_id", chatID), logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	return nil
}

func (n *Notifier) Stats() Stats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return n.stats
}

func (n *Notifier) count(ok bool) {
	n.statsMu.Lock()
	if ok {
		n.stats.Sent++
	} else {
		n.stats.Failed++
	}
	n.statsMu.Unlock()
}
