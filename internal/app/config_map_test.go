package app

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"wqbot/internal/config"
	logx "wqbot/pkg/logx"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Schedule.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

func TestMapsDefaults(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	fc := mapFeedConfig(cfg)
	if fc.URL != config.DefaultFeedURL || fc.Timeout != 30*time.Second {
		t.Fatalf("feed config = %+v", fc)
	}
	sc := mapSchedulerConfig(cfg)
	if sc.At != config.DefaultAt || sc.Timezone != config.DefaultTimezone || !sc.Enabled {
		t.Fatalf("scheduler config = %+v", sc)
	}
	if st := mapStateConfig(cfg); st.Driver != "file" || st.Path == "" {
		t.Fatalf("state config = %+v", st)
	}
	if cs := mapCommandSettings(cfg); cs.RecentDefault != 5 || cs.RecentMax != 20 {
		t.Fatalf("command settings = %+v", cs)
	}
}

func TestRestartRequired(t *testing.T) {
	t.Parallel()
	a := testConfig()
	b := testConfig()
	if got := restartRequired(a, b); len(got) != 0 {
		t.Fatalf("identical configs: %v", got)
	}

	b.Feed.Cookie = "t=new"
	b.Schedule.At = "09:30"
	if got := restartRequired(a, b); len(got) != 0 {
		t.Fatalf("live sections flagged: %v", got)
	}

	b.Telegram.Token = "456:def"
	b.State.Driver = "sqlite"
	got := restartRequired(a, b)
	if !slices.Equal(got, []string{"telegram", "state"}) {
		t.Fatalf("restartRequired = %v", got)
	}
}

func TestBotUsername(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	if got := botUsername(cfg, "from_getme"); got != "from_getme" {
		t.Fatalf("fallback not used: %q", got)
	}
	cfg.Telegram.BotUsername = " @wqannouncementsbot "
	if got := botUsername(cfg, "from_getme"); got != "@wqannouncementsbot" {
		t.Fatalf("configured name not used: %q", got)
	}
}

func TestOpenStoreMemoryAndFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig()
	cfg.State.Driver = "memory"
	st, err := OpenStore(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	st.Subscribe(1)
	if err := st.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = st.Close()

	cfg = testConfig()
	cfg.State.Driver = "file"
	cfg.State.Path = filepath.Join(t.TempDir(), "state.json")
	st, err = OpenStore(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("file (missing is fine): %v", err)
	}
	if c := st.Counts(); c.Watching != 0 {
		t.Fatalf("fresh store counts = %+v", c)
	}
	_ = st.Close()
}
