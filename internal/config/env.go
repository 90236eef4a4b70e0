package config

import (
	"os"
	"strings"
)

const (
	EnvBotToken = "TG_BOT_TOKEN"
	EnvCookie   = "WQ_COOKIE"
)

// ApplyEnv overlays secrets from the environment. lookup is os.LookupEnv in
// production; tests pass a map-backed func.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBotToken); ok && strings.TrimSpace(v) != "" {
		c.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvCookie); ok && strings.TrimSpace(v) != "" {
		c.Feed.Cookie = strings.TrimSpace(v)
	}
}
