package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const DefaultMemoryTTL = time.Hour

type entry struct {
	value     []byte
	expiresAt time.Time
}

// memoryCache is the in-process fallback. Expired entries are evicted lazily
// on read and by the periodic sweep.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func newMemoryCache(now func() time.Time) *memoryCache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{
		entries: make(map[string]entry),
		now:     now,
	}
}

func (m *memoryCache) get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (m *memoryCache) set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *memoryCache) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *memoryCache) keys(pattern string) []string {
	re := globToRegexp(pattern)
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, e := range m.entries {
		if now.Before(e.expiresAt) && re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ttl returns the remaining lifetime in seconds, or -2 when the key is absent.
func (m *memoryCache) ttl(key string) int64 {
	e, ok := m.lookup(key)
	if !ok {
		return -2
	}
	return int64(e.expiresAt.Sub(m.now()) / time.Second)
}

func (m *memoryCache) lookup(key string) (entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}

func (m *memoryCache) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *memoryCache) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// globToRegexp converts a redis style glob ("*" and "?") into an anchored
// regular expression.
func globToRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
