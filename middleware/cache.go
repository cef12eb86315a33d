// Package middleware provides Select interceptors for dbo connections:
// result caches, a slow query log, a circuit breaker and trace fields.
package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shrek82/dbo/core"
)

// fallbackTTL applies when CacheDefault is requested and the cache has no
// default of its own.
const fallbackTTL = 24 * time.Hour

// cacheTTL resolves the TTL requested on ctx. ok is false when the call
// should bypass the cache; forever marks entries without expiry.
func cacheTTL(ctx context.Context, def time.Duration) (ttl time.Duration, forever, ok bool) {
	t, set := core.CacheTTL(ctx)
	switch {
	case !set || t == 0:
		return 0, false, false
	case t == core.CacheForever:
		return 0, true, true
	case t == core.CacheDefault:
		if def > 0 {
			return def, false, true
		}
		return fallbackTTL, false, true
	case t > 0:
		return t, false, true
	}
	return 0, false, false
}

func encodeResult(res core.Result) ([]byte, error) { return json.Marshal(res) }

func decodeResult(data []byte) (core.Result, error) {
	var res core.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if res == nil {
		res = core.Result{}
	}
	return res, nil
}
