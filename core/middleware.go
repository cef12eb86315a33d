package core

import (
	"context"
	"fmt"
	"time"
)

// Component is the base interface for all dbo components/middleware.
type Component interface {
	Name() string
	Init(db *DB) error
	Shutdown() error
}

// Request describes one Select call as it passes the middleware chain.
type Request struct {
	Driver string
	Query  string
	Args   []any
	// Fields are attached to the trace of the request.
	Fields map[string]any
}

// Key identifies the request for result caches.
func (r *Request) Key() string {
	return fmt.Sprintf("dbo:cache:%s:%s:%v", r.Driver, r.Query, r.Args)
}

// WithFields merges fields into the request's trace fields.
func (r *Request) WithFields(fields map[string]any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		r.Fields[k] = v
	}
}

// SelectFunc is the function type for the next step in the middleware chain.
type SelectFunc func(ctx context.Context, req *Request) (Result, error)

// Middleware intercepts Select calls.
type Middleware interface {
	Component
	Process(ctx context.Context, req *Request, next SelectFunc) (Result, error)
}

type cacheTTLKey struct{}

// Cache TTL sentinels understood by the cache middlewares.
const (
	// CacheDefault asks for the middleware's default TTL.
	CacheDefault time.Duration = -2
	// CacheForever asks for an entry that never expires.
	CacheForever time.Duration = -1
)

// WithCacheTTL enables result caching for Select calls made with ctx. A
// zero ttl disables caching.
func WithCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheTTLKey{}, ttl)
}

// CacheTTL returns the TTL requested on ctx.
func CacheTTL(ctx context.Context) (time.Duration, bool) {
	ttl, ok := ctx.Value(cacheTTLKey{}).(time.Duration)
	return ttl, ok
}

// Use registers middlewares for Select, outermost first.
func (db *DB) Use(ms ...Middleware) error {
	for _, m := range ms {
		if err := m.Init(db); err != nil {
			return fmt.Errorf("middleware %s: %w", m.Name(), err)
		}
		db.middlewares = append(db.middlewares, m)
	}
	return nil
}

func (db *DB) chain(final SelectFunc) SelectFunc {
	next := final
	for i := len(db.middlewares) - 1; i >= 0; i-- {
		m, inner := db.middlewares[i], next
		next = func(ctx context.Context, req *Request) (Result, error) {
			return m.Process(ctx, req, inner)
		}
	}
	return next
}

func (db *DB) shutdownMiddlewares() error {
	var first error
	for _, m := range db.middlewares {
		if err := m.Shutdown(); err != nil && first == nil {
			first = err
		}
	}
	db.middlewares = nil
	return first
}
