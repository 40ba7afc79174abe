package kvstore

import (
	"context"
	"sync"
)

// Memory はプロセス内のマップに値を保持するStore。
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory は空のMemoryを生成する。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get はキーに対応する値のコピーを返す。
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set はキーに値のコピーを保存する。
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete はキーを削除する。
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Close は何もしない。
func (m *Memory) Close() error { return nil }
