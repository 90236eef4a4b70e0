package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "wqbot/internal/transport"
	logx "wqbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	calls []kit.ChatTarget
	opts  []*kit.SendOptions
	err   error
	delay time.Duration
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	f.opts = append(f.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.calls)}, f.err
}

func TestSendUsesPlainTextWithoutPreview(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	n := New(Config{RatePerSec: 100}, a, logx.Nop())
	if err := n.Send(context.Background(), 42, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.calls) != 1 || a.calls[0].ChatID != 42 {
		t.Fatalf("calls = %+v", a.calls)
	}
	if !a.opts[0].DisablePreview || a.opts[0].ParseMode != "" {
		t.Fatalf("opts = %+v", a.opts[0])
	}
	if st := n.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{delay: time.Second}
	n := New(Config{RatePerSec: 100, SendTimeout: 20 * time.Millisecond}, a, logx.Nop())
	err := n.Send(context.Background(), 1, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if st := n.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSendWithoutAdapter(t *testing.T) {
	t.Parallel()
	n := New(Config{}, nil, logx.Nop())
	if err := n.Send(context.Background(), 1, "x"); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v", err)
	}
	n.SetAdapter(&fakeAdapter{})
	if err := n.Send(context.Background(), 1, "x"); err != nil {
		t.Fatalf("after SetAdapter: %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	n := New(Config{RatePerSec: 2}, a, logx.Nop())
	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := n.Send(context.Background(), 1, "x"); err != nil {
			t.Fatal(err)
		}
	}
	// burst of 2, then one token every 500ms
	if took := time.Since(start); took < 700*time.Millisecond {
		t.Fatalf("4 sends at 2/s took %v", took)
	}
}
