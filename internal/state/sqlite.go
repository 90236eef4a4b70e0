package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "wqbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watching (
	chat_id INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS last_seen (
	chat_id INTEGER PRIMARY KEY,
	announcement_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS expiry_notified (
	chat_id INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the store serializes saves anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteBackend{db: db, log: log.With(logx.String("driver", "sqlite"))}, nil
}

func (b *sqliteBackend) Load(ctx context.Context) (Snapshot, error) {
	var savedAt string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{LastSeen: map[string]string{}}
	if s.Watching, err = b.ids(ctx, `SELECT chat_id FROM watching ORDER BY chat_id`); err != nil {
		return Snapshot{}, err
	}
	if s.ExpiryNotified, err = b.ids(ctx, `SELECT chat_id FROM expiry_notified ORDER BY chat_id`); err != nil {
		return Snapshot{}, err
	}
	rows, err := b.db.QueryContext(ctx, `SELECT chat_id, announcement_id FROM last_seen`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			ann string
		)
		if err := rows.Scan(&id, &ann); err != nil {
			return Snapshot{}, err
		}
		s.LastSeen[strconv.FormatInt(id, 10)] = ann
	}
	return s, rows.Err()
}

func (b *sqliteBackend) ids(ctx context.Context, query string) ([]int64, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Save replaces all rows in one transaction.
func (b *sqliteBackend) Save(ctx context.Context, s Snapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{`DELETE FROM watching`, `DELETE FROM last_seen`, `DELETE FROM expiry_notified`} {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	for _, id := range sortedUnique(s.Watching) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO watching(chat_id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	for _, id := range sortedUnique(s.ExpiryNotified) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO expiry_notified(chat_id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	for k, v := range s.LastSeen {
		id, perr := strconv.ParseInt(k, 10, 64)
		if perr != nil {
			err = fmt.Errorf("last_seen key %q: %w", k, perr)
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO last_seen(chat_id, announcement_id) VALUES(?,?)`, id, v); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
