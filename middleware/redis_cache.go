package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrek82/dbo/core"
)

// RedisCacheMiddleware caches Select results in Redis.
// Caching is enabled per call with core.WithCacheTTL.
type RedisCacheMiddleware struct {
	Client     *redis.Client
	DefaultTTL time.Duration
}

func NewRedisCache(opt *redis.Options) *RedisCacheMiddleware {
	return &RedisCacheMiddleware{
		Client: redis.NewClient(opt),
	}
}

func (m *RedisCacheMiddleware) Name() string {
	return "RedisCache"
}

func (m *RedisCacheMiddleware) Init(db *core.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Client.Ping(ctx).Err()
}

func (m *RedisCacheMiddleware) Shutdown() error {
	return m.Client.Close()
}

func (m *RedisCacheMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	ttl, forever, ok := cacheTTL(ctx, m.DefaultTTL)
	if !ok {
		return next(ctx, req)
	}
	if forever {
		// redis uses 0 for no expiration
		ttl = 0
	}
	key := req.Key()

	if val, err := m.Client.Get(ctx, key).Bytes(); err == nil {
		if res, err := decodeResult(val); err == nil {
			return res, nil
		}
	}

	res, err := next(ctx, req)
	if err != nil {
		return res, err
	}

	if data, err := encodeResult(res); err == nil {
		m.Client.Set(ctx, key, data, ttl)
	}
	return res, nil
}
