package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps the encoded snapshot in memory. Nothing survives a
// restart; it backs the "memory" driver and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int

	// FailWith, when set, is returned by Save.
	FailWith error
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Load(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return Snapshot{}, ErrNotFound
	}
	return DecodeSnapshot(b.data)
}

func (b *MemoryBackend) Save(ctx context.Context, s Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}
	b.data = data
	b.saves++
	return nil
}

// Saves reports how many Save calls succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Raw returns the last saved encoding.
func (b *MemoryBackend) Raw() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *MemoryBackend) Close() error { return nil }
