package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "wqbot/pkg/logx"
)

func TestStoreOperations(t *testing.T) {
	t.Parallel()
	s := New(NewMemoryBackend(), logx.Nop())

	assert.True(t, s.Subscribe(2))
	assert.False(t, s.Subscribe(2), "subscribe is idempotent")
	assert.True(t, s.Subscribe(1))
	assert.Equal(t, []int64{1, 2}, s.Watching())
	assert.True(t, s.IsWatching(1))

	_, ok := s.LastSeen(1)
	assert.False(t, ok)
	s.SetLastSeen(1, "abc")
	got, ok := s.LastSeen(1)
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	assert.True(t, s.Unsubscribe(1))
	assert.False(t, s.Unsubscribe(1))
	assert.False(t, s.IsWatching(1))
}

func TestExpiryNotifiedLifecycle(t *testing.T) {
	t.Parallel()
	s := New(NewMemoryBackend(), logx.Nop())
	s.Subscribe(7)

	assert.True(t, s.MarkExpiryNotified(7))
	assert.False(t, s.MarkExpiryNotified(7))
	assert.Equal(t, 1, s.ClearWatching())
	assert.Empty(t, s.Watching())

	// Re-subscribing starts a fresh outage window for this subscriber.
	s.Subscribe(7)
	assert.True(t, s.MarkExpiryNotified(7))
}

func TestMarkExpiryNotifiedIsExclusive(t *testing.T) {
	t.Parallel()
	s := New(NewMemoryBackend(), logx.Nop())
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkExpiryNotified(42) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSnapshotLayout(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	s := New(b, logx.Nop())
	s.Subscribe(30)
	s.Subscribe(-100)
	s.Subscribe(5)
	s.SetLastSeen(5, "x")
	s.MarkExpiryNotified(9)
	require.NoError(t, s.Save(context.Background()))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b.Raw(), &raw))
	assert.Equal(t, []any{float64(-100), float64(5), float64(30)}, raw["watching"])
	assert.Equal(t, map[string]any{"5": "x"}, raw["last_seen"])
	assert.Equal(t, []any{float64(9)}, raw["cookie_expired_notified"])
}

func TestSaveFailureIsPersistError(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	b.FailWith = errors.New("disk full")
	s := New(b, logx.Nop())
	s.Subscribe(1)

	err := s.Save(context.Background())
	var pe *PersistError
	require.True(t, errors.As(err, &pe))
	assert.True(t, s.IsWatching(1), "memory stays authoritative")
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	backend, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	s := New(backend, logx.Nop())
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Watching())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s.Subscribe(1)
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Watching(), "corrupt state falls back to defaults")

	require.NoError(t, os.WriteFile(path, []byte(`{"watching":[1],"last_seen":{"abc":"x"}}`), 0o644))
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Watching())
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	backend, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	s := New(backend, logx.Nop())
	s.Subscribe(11)
	s.SetLastSeen(11, "id-3")
	s.SetLastSeen(12, "id-1")
	s.MarkExpiryNotified(13)
	require.NoError(t, s.Save(context.Background()))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")

	s2 := New(backend, logx.Nop())
	require.NoError(t, s2.Load(context.Background()))
	assert.Equal(t, s.Snapshot(), s2.Snapshot())
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	backend, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	_, err = backend.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	s := New(backend, logx.Nop())
	s.Subscribe(1)
	s.Subscribe(2)
	s.SetLastSeen(1, "a")
	s.MarkExpiryNotified(3)
	require.NoError(t, s.Save(context.Background()))

	s.Unsubscribe(2)
	require.NoError(t, s.Save(context.Background()))

	s2 := New(backend, logx.Nop())
	require.NoError(t, s2.Load(context.Background()))
	assert.Equal(t, []int64{1}, s2.Watching())
	got, ok := s2.LastSeen(1)
	assert.True(t, ok)
	assert.Equal(t, "a", got)
	assert.False(t, s2.MarkExpiryNotified(3))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
}

func TestConcurrentSaves(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	backend, err := Open(context.Background(), Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	s := New(backend, logx.Nop())

	var wg sync.WaitGroup
	for i := int64(0); i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.Subscribe(id)
			assert.NoError(t, s.Save(context.Background()))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Save(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Len(t, snap.Watching, 20)
}
