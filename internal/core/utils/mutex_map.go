package utils

import (
	"fmt"
	"sync"
)

// MutexMap hands out one mutex per key, created on first use and released
// when nobody holds or waits on it anymore.
type MutexMap struct {
	edit    sync.Mutex
	waiters map[string]int
	mutexes map[string]*sync.Mutex
	maxSize int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		waiters: make(map[string]int),
		mutexes: make(map[string]*sync.Mutex),
		maxSize: maxSize,
	}
}

func (m *MutexMap) Lock(key string) error {
	m.edit.Lock()

	mu, ok := m.mutexes[key]
	if !ok {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return fmt.Errorf("mutex map full: %d keys in use", m.maxSize)
		}
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()
	return nil
}

func (m *MutexMap) Unlock(key string) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu, ok := m.mutexes[key]
	if !ok {
		return fmt.Errorf("key %s not locked", key)
	}

	mu.Unlock()
	m.waiters[key]--
	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}
	return nil
}

// WithLock runs fn while holding the lock for key.
func (m *MutexMap) WithLock(key string, fn func() error) error {
	if err := m.Lock(key); err != nil {
		return err
	}
	defer m.Unlock(key) //nolint:errcheck

	return fn()
}

func (m *MutexMap) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
