package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		body string
	}{
		{"json", "c.json", `{"telegram":{"token":"t","owner_user_ids":[7]},"feed":{"cookie":"t=abc"},"schedule":{"enabled":true,"at":"09:30"}}`},
		{"yaml", "c.yaml", "telegram:\n  token: t\n  owner_user_ids: [7]\nfeed:\n  cookie: t=abc\nschedule:\n  enabled: true\n  at: \"09:30\"\n"},
		{"toml", "c.toml", "[telegram]\ntoken = \"t\"\nowner_user_ids = [7]\n[feed]\ncookie = \"t=abc\"\n[schedule]\nenabled = true\nat = \"09:30\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tc.file, tc.body))
			m.SetEnvLookup(noEnv)
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Telegram.Token != "t" || len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 7 {
				t.Fatalf("telegram = %+v", cfg.Telegram)
			}
			if cfg.Feed.Cookie != "t=abc" || cfg.Schedule.At != "09:30" || !cfg.Schedule.Enabled {
				t.Fatalf("feed/schedule = %+v %+v", cfg.Feed, cfg.Schedule)
			}
			if cfg.Feed.URL != DefaultFeedURL || cfg.Schedule.Timezone != DefaultTimezone {
				t.Fatalf("defaults not applied: %+v", cfg)
			}
			if m.Get() != cfg {
				t.Fatal("Load should commit the config")
			}
		})
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"telegram":{"tokn":"x"}}`)); err == nil {
		t.Fatal("unknown field should be rejected")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data should be rejected")
	}
	if _, err := Decode("c.yaml", []byte("feed:\n  bogus: 1\n")); err == nil {
		t.Fatal("unknown yaml field should be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{EnvBotToken: " from-env ", EnvCookie: "t=env"}
	cfg := &Config{Telegram: TelegramConfig{Token: "file"}}
	cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Telegram.Token != "from-env" || cfg.Feed.Cookie != "t=env" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Feed)
	}
}

func validConfig() *Config {
	c := &Config{Telegram: TelegramConfig{Token: "t"}}
	c.ApplyDefaults()
	return c
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"empty token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"zero feed timeout", func(c *Config) { c.Feed.Timeout = "0s" }, "feed.timeout"},
		{"bad url", func(c *Config) { c.Feed.URL = "not a url" }, "feed.url"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"bad at", func(c *Config) { c.Schedule.At = "25:00" }, "schedule.at"},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every day" }, "schedule.cron"},
		{"cron wins over at", func(c *Config) { c.Schedule.Cron = "0 9 * * *"; c.Schedule.At = "junk" }, ""},
		{"bad driver", func(c *Config) { c.State.Driver = "etcd" }, "state.driver"},
		{"redis needs addr", func(c *Config) { c.State.Driver = "redis" }, "state.redis.addr"},
		{"gcs needs bucket", func(c *Config) { c.State.Driver = "gcs" }, "state.gcs.bucket"},
		{"log chat id", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram.chat_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM(" 07:05 ")
	if err != nil || h != 7 || m != 5 {
		t.Fatalf("ParseHHMM = %d %d %v", h, m, err)
	}
	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("ParseHHMM(%q) should fail", bad)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default = %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if got := (FeedConfig{Timeout: "5s"}).TimeoutDuration(); got != 5*time.Second {
		t.Fatalf("TimeoutDuration = %v", got)
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := validConfig()
	b := validConfig()
	b.Feed.Cookie = "t=secret"
	b.Schedule.At = "01:00"
	changed, _ := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "feed,schedule" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestSchemaIsJSON(t *testing.T) {
	t.Parallel()
	b, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("schema not JSON: %v", err)
	}
	props, _ := m["properties"].(map[string]any)
	if _, ok := props["feed"]; !ok {
		t.Fatalf("schema missing feed: %s", b)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "c.json", `{"telegram":{"token":"t"},"schedule":{"at":"01:00"}}`)
	m := NewConfigManager(path)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"schedule":{"at":"02:00"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Schedule.At != "02:00" {
			t.Fatalf("at = %q", cfg.Schedule.At)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
