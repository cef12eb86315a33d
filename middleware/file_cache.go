package middleware

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shrek82/dbo/core"
)

// FileCacheMiddleware caches Select results as JSON files, one per request
// key. Caching is enabled per call with core.WithCacheTTL.
type FileCacheMiddleware struct {
	CacheDir   string
	DefaultTTL time.Duration
}

func NewFileCache(cacheDir string, defaultTTL ...time.Duration) *FileCacheMiddleware {
	ttl := 5 * time.Minute
	if len(defaultTTL) > 0 {
		ttl = defaultTTL[0]
	}
	return &FileCacheMiddleware{
		CacheDir:   cacheDir,
		DefaultTTL: ttl,
	}
}

func (m *FileCacheMiddleware) Name() string {
	return "FileCache"
}

func (m *FileCacheMiddleware) Init(db *core.DB) error {
	if m.CacheDir == "" {
		return fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(m.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

func (m *FileCacheMiddleware) Shutdown() error {
	return nil
}

type fileCacheEntry struct {
	Data json.RawMessage `json:"data"`
	// ExpiresAt is zero for entries that never expire.
	ExpiresAt time.Time `json:"expires_at"`
}

func (m *FileCacheMiddleware) path(req *core.Request) string {
	hash := md5.Sum([]byte(req.Key()))
	return filepath.Join(m.CacheDir, hex.EncodeToString(hash[:])+".json")
}

func (m *FileCacheMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	ttl, forever, ok := cacheTTL(ctx, m.DefaultTTL)
	if !ok {
		return next(ctx, req)
	}
	filename := m.path(req)

	if data, err := os.ReadFile(filename); err == nil {
		var entry fileCacheEntry
		if err := json.Unmarshal(data, &entry); err == nil {
			if entry.ExpiresAt.IsZero() || time.Now().Before(entry.ExpiresAt) {
				if res, err := decodeResult(entry.Data); err == nil {
					return res, nil
				}
			} else {
				_ = os.Remove(filename)
			}
		}
	}

	res, err := next(ctx, req)
	if err != nil {
		return res, err
	}

	if data, err := encodeResult(res); err == nil {
		entry := fileCacheEntry{Data: data}
		if !forever {
			entry.ExpiresAt = time.Now().Add(ttl)
		}
		fileBytes, _ := json.Marshal(entry)
		_ = os.WriteFile(filename, fileBytes, 0644)
	}
	return res, nil
}
