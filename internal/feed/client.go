// Package feed fetches the announcement list from the upstream HTTP API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"wqbot/internal/announce"
	logx "wqbot/pkg/logx"
)

// maxBody bounds how much of a response we read.
const maxBody = 8 << 20

// Fetcher returns the current newest-first announcement list.
// Failures are *Error values.
type Fetcher interface {
	Fetch(ctx context.Context) ([]announce.Announcement, error)
}

type Config struct {
	URL     string
	Cookie  string
	Headers map[string]string
	// Timeout bounds each HTTP attempt. It must be positive.
	Timeout    time.Duration
	RetryMax   int
	RetryDelay time.Duration
	ListKeys   []string
	StripHTML  bool
}

type Client struct {
	hc  *http.Client
	log logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{hc: hc, log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps the configuration; in-flight fetches keep the old one.
func (c *Client) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	cfg.Headers = cloneHeaders(cfg.Headers)
	cfg.ListKeys = append([]string(nil), cfg.ListKeys...)
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Client) Fetch(ctx context.Context) ([]announce.Announcement, error) {
	cfg := c.config()

	var (
		items   []announce.Announcement
		lastErr error
	)
	start := time.Now()
	err := retry.Do(
		func() error {
			out, err := c.fetchOnce(ctx, cfg)
			if err != nil {
				lastErr = err
				return err
			}
			items = out
			return nil
		},
		retry.Attempts(uint(cfg.RetryMax)+1),
		retry.Delay(cfg.RetryDelay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(cfg.RetryDelay/2+time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("feed fetch failed, retrying", logx.Int("attempt", int(n)+1), logx.Err(err))
		}),
		retry.RetryIf(retryable),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = &Error{Kind: KindTransport, Op: "fetch", Err: err}
		}
		c.log.Debug("feed fetch failed", logx.Duration("took", time.Since(start)), logx.Err(lastErr))
		return nil, lastErr
	}
	c.log.Debug("feed fetched", logx.Int("items", len(items)), logx.Duration("took", time.Since(start)))
	return items, nil
}

func (c *Client) fetchOnce(ctx context.Context, cfg Config) ([]announce.Announcement, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, cfg.URL, http.NoBody)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "request", Err: err}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Cookie != "" {
		req.Header.Set("Cookie", cfg.Cookie)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "get", Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuthExpired, Op: "get", Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindTransport, Op: "get", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBody))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		if actx.Err() != nil {
			return nil, &Error{Kind: KindTransport, Op: "read", Err: err}
		}
		return nil, &Error{Kind: KindFormat, Op: "decode", Status: resp.StatusCode, Err: err}
	}

	raws, err := extractList(payload, cfg.ListKeys)
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "decode", Status: resp.StatusCode, Err: err}
	}
	items, err := announce.ParseAll(raws, announce.Options{StripHTML: cfg.StripHTML})
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "parse", Status: resp.StatusCode, Err: err}
	}
	return items, nil
}

// extractList accepts a top-level array or an object carrying an array under
// one of keys, checked in order.
func extractList(payload any, keys []string) ([]map[string]any, error) {
	var list []any
	switch v := payload.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range keys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return nil, fmt.Errorf("object without a list under %s", strings.Join(keys, "/"))
		}
	default:
		return nil, fmt.Errorf("unexpected top-level %T", payload)
	}

	out := make([]map[string]any, 0, len(list))
	for i, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, want object", i, el)
		}
		out = append(out, m)
	}
	return out, nil
}

func cloneHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
