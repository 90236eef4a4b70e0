package config

// Config is the whole on-disk configuration. All durations are Go duration
// strings ("30s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Feed     FeedConfig     `json:"feed"`
	Schedule ScheduleConfig `json:"schedule"`
	State    StateConfig    `json:"state"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Status   StatusConfig   `json:"status,omitempty"`
	Commands CommandsConfig `json:"commands,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through TG_BOT_TOKEN.
	Token        string  `json:"token,omitempty" jsonschema:"description=Bot API token (or TG_BOT_TOKEN)"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// BotUsername is matched against group mentions, e.g. "@wqannouncementsbot".
	// When empty the username reported by getMe is used.
	BotUsername string `json:"bot_username,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type FeedConfig struct {
	URL string `json:"url,omitempty"`
	// Cookie is sent verbatim as the Cookie header (e.g. "t=..."); WQ_COOKIE overrides it.
	Cookie     string            `json:"cookie,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	RetryMax   int               `json:"retry_max,omitempty"`
	RetryDelay string            `json:"retry_delay,omitempty"`
	// ListKeys are the envelope keys searched, in order, when the response is an object.
	ListKeys  []string `json:"list_keys,omitempty"`
	StripHTML bool     `json:"strip_html,omitempty"`
}

type ScheduleConfig struct {
	Enabled bool `json:"enabled"`
	// At is a daily wall-clock time "HH:MM". Cron, when set, wins over At.
	At       string `json:"at,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// Timeout is the run time after which a slow cycle is logged. The cycle
	// itself is not interrupted.
	Timeout string `json:"timeout,omitempty"`
}

// StateConfig selects the persistence backend.
//
// Example:
//
//	"state": { "driver": "file", "path": "./state.json" }
type StateConfig struct {
	Driver      string      `json:"driver,omitempty" jsonschema:"enum=file,enum=sqlite,enum=redis,enum=gcs,enum=memory"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
	GCS         GCSConfig   `json:"gcs,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type GCSConfig struct {
	Bucket          string `json:"bucket,omitempty"`
	Object          string `json:"object,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StatusConfig controls the HTTP status endpoint.
// Bind to loopback or set a token; POST /cycle always requires the token.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	// Pprof exposes /debug/pprof on the same listener, token-protected.
	Pprof bool `json:"pprof,omitempty"`
}

type CommandsConfig struct {
	RecentDefault int `json:"recent_default,omitempty"`
	RecentMax     int `json:"recent_max,omitempty"`
}
