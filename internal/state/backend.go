package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "wqbot/pkg/logx"
)

var (
	// ErrNotFound means nothing has been persisted yet.
	ErrNotFound = errors.New("state: not found")
	// ErrCorrupt means persisted data exists but cannot be decoded.
	ErrCorrupt = errors.New("state: corrupt")
)

// Backend persists whole snapshots. Save must replace the previous snapshot
// atomically: a reader sees either the old or the new one.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// Config selects a driver.
//
// Driver values:
//   - "file": JSON file, replaced by rename (default)
//   - "sqlite": SQLite database file
//   - "redis": one JSON value under Redis.Key
//   - "gcs": one JSON object in a Cloud Storage bucket
//   - "memory": process-local, lost on exit
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration

	Redis RedisConfig
	GCS   GCSConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type GCSConfig struct {
	Bucket          string
	Object          string
	CredentialsFile string
}

// Open initializes the configured backend.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "gcs":
		return openGCS(ctx, cfg, log)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown state driver: %s", driver)
	}
}
