package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shrek82/dbo/core"
)

// MemoryCacheMiddleware caches Select results in process memory.
// Caching is enabled per call with core.WithCacheTTL. One instance may be
// shared by several connections; concurrent misses on a key share a single
// backend call.
type MemoryCacheMiddleware struct {
	items      map[string]memoryCacheEntry
	mu         sync.RWMutex
	group      singleflight.Group
	stopClean  chan struct{}
	stopOnce   sync.Once
	DefaultTTL time.Duration
}

type memoryCacheEntry struct {
	Data      []byte
	ExpiresAt time.Time
}

func NewMemoryCache(defaultTTL ...time.Duration) *MemoryCacheMiddleware {
	ttl := 5 * time.Minute
	if len(defaultTTL) > 0 {
		ttl = defaultTTL[0]
	}
	return &MemoryCacheMiddleware{
		items:      make(map[string]memoryCacheEntry),
		stopClean:  make(chan struct{}),
		DefaultTTL: ttl,
	}
}

func (m *MemoryCacheMiddleware) Name() string {
	return "MemoryCache"
}

func (m *MemoryCacheMiddleware) Init(db *core.DB) error {
	go m.cleanupLoop()
	return nil
}

func (m *MemoryCacheMiddleware) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopClean:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryCacheMiddleware) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, v := range m.items {
		if !v.ExpiresAt.IsZero() && now.After(v.ExpiresAt) {
			delete(m.items, k)
		}
	}
}

func (m *MemoryCacheMiddleware) Shutdown() error {
	m.stopOnce.Do(func() { close(m.stopClean) })
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCacheMiddleware) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryCacheMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	ttl, forever, ok := cacheTTL(ctx, m.DefaultTTL)
	if !ok {
		return next(ctx, req)
	}
	key := req.Key()

	m.mu.RLock()
	entry, found := m.items[key]
	m.mu.RUnlock()

	if found {
		if entry.ExpiresAt.IsZero() || time.Now().Before(entry.ExpiresAt) {
			// an undecodable entry falls through to the database
			if res, err := decodeResult(entry.Data); err == nil {
				return res, nil
			}
		} else {
			m.mu.Lock()
			delete(m.items, key)
			m.mu.Unlock()
		}
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		res, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		if data, err := encodeResult(res); err == nil {
			e := memoryCacheEntry{Data: data}
			if !forever {
				e.ExpiresAt = time.Now().Add(ttl)
			}
			m.mu.Lock()
			m.items[key] = e
			m.mu.Unlock()
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.Result), nil
}
