// Package state holds the subscriber registry, per-subscriber last-seen
// markers and the set of subscribers already told the session expired.
package state

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	logx "wqbot/pkg/logx"
)

// PersistError wraps a failed Save. In-memory state stays authoritative.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return "state persist: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// Store is safe for concurrent use. mu guards the maps; saveMu orders
// persistence so a later snapshot is never overwritten by an earlier one.
type Store struct {
	backend Backend
	log     logx.Logger

	mu       sync.Mutex
	watching map[int64]struct{}
	lastSeen map[int64]string
	notified map[int64]struct{}

	saveMu sync.Mutex
}

func New(backend Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		backend:  backend,
		log:      log,
		watching: map[int64]struct{}{},
		lastSeen: map[int64]string{},
		notified: map[int64]struct{}{},
	}
}

// Load replaces in-memory state with the persisted snapshot. Missing or
// corrupt data yields empty state and a nil error; only backend failures
// (for example an unreachable server) are returned.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.log.Info("no saved state; starting empty")
		snap = Snapshot{}
	case errors.Is(err, ErrCorrupt):
		s.log.Error("saved state is corrupt; starting empty", logx.Err(err))
		snap = Snapshot{}
	case err != nil:
		return err
	}

	watching := make(map[int64]struct{}, len(snap.Watching))
	for _, id := range snap.Watching {
		watching[id] = struct{}{}
	}
	notified := make(map[int64]struct{}, len(snap.ExpiryNotified))
	for _, id := range snap.ExpiryNotified {
		notified[id] = struct{}{}
	}
	lastSeen := make(map[int64]string, len(snap.LastSeen))
	for k, v := range snap.LastSeen {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		lastSeen[id] = v
	}

	s.mu.Lock()
	s.watching, s.lastSeen, s.notified = watching, lastSeen, notified
	s.mu.Unlock()

	s.log.Info("state loaded",
		logx.Int("watching", len(watching)),
		logx.Int("last_seen", len(lastSeen)),
		logx.Int("expiry_notified", len(notified)),
	)
	return nil
}

// Save persists the current state. Failures are logged and returned as *PersistError.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := s.Snapshot()
	if err := s.backend.Save(ctx, snap); err != nil {
		s.log.Error("state save failed", logx.Err(err))
		return &PersistError{Err: err}
	}
	return nil
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Watching:       keys(s.watching),
		LastSeen:       make(map[string]string, len(s.lastSeen)),
		ExpiryNotified: keys(s.notified),
	}
	for id, v := range s.lastSeen {
		snap.LastSeen[strconv.FormatInt(id, 10)] = v
	}
	return snap
}

// Subscribe adds id to the registry and clears its expiry notice.
// It reports whether id was newly added.
func (s *Store) Subscribe(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.watching[id]
	s.watching[id] = struct{}{}
	delete(s.notified, id)
	return !had
}

// Unsubscribe reports whether id was watching.
func (s *Store) Unsubscribe(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.watching[id]
	delete(s.watching, id)
	return had
}

func (s *Store) IsWatching(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watching[id]
	return ok
}

// Watching returns subscriber ids in ascending order.
func (s *Store) Watching() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.watching)
}

func (s *Store) SetLastSeen(id int64, identity string) {
	s.mu.Lock()
	s.lastSeen[id] = identity
	s.mu.Unlock()
}

// LastSeen reports the marker for id; ok is false if id was never baselined.
func (s *Store) LastSeen(id int64) (identity string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok = s.lastSeen[id]
	return identity, ok
}

// MarkExpiryNotified returns true only the first time id is marked during
// the current outage.
func (s *Store) MarkExpiryNotified(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notified[id]; ok {
		return false
	}
	s.notified[id] = struct{}{}
	return true
}

// ClearWatching empties the registry and returns how many were removed.
// Last-seen markers and expiry notices are kept.
func (s *Store) ClearWatching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.watching)
	s.watching = map[int64]struct{}{}
	return n
}

type Counts struct {
	Watching       int `json:"watching"`
	LastSeen       int `json:"last_seen"`
	ExpiryNotified int `json:"expiry_notified"`
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{Watching: len(s.watching), LastSeen: len(s.lastSeen), ExpiryNotified: len(s.notified)}
}

func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
