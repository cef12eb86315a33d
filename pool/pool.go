// Package pool keeps persistent backend sessions alive across Open/Close
// cycles, keyed by data source and credentials.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Conn is a session the registry can health-check and close.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Key builds the registry key for a data source, optionally scoped by id.
func Key(dsn, user, pass, id string) string {
	k := "DBH:DSN=" + dsn + ":" + user + ":" + pass
	if id != "" {
		k += ":" + id
	}
	return k
}

type entry[T Conn] struct {
	conn     T
	refs     int
	lastUsed time.Time
}

// Registry is an explicit persistent-connection service. The embedding
// application owns it and passes it to every Open that should share it.
type Registry[T Conn] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T Conn]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*entry[T])}
}

// Acquire returns the live session stored under key, or opens and stores a
// new one. A stored session that fails its liveness check is closed and
// replaced. reused reports whether an existing session was handed out.
func (r *Registry[T]) Acquire(ctx context.Context, key string, open func(context.Context) (T, error)) (conn T, reused bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		if err := e.conn.Ping(ctx); err == nil {
			e.refs++
			e.lastUsed = time.Now()
			return e.conn, true, nil
		}
		e.conn.Close()
		delete(r.entries, key)
	}

	conn, err = open(ctx)
	if err != nil {
		return conn, false, err
	}
	r.entries[key] = &entry[T]{conn: conn, refs: 1, lastUsed: time.Now()}
	return conn, false, nil
}

// Release drops one reference. The session stays open for the next Acquire.
func (r *Registry[T]) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.refs > 0 {
		e.refs--
	}
}

// Refs returns the number of outstanding references to key.
func (r *Registry[T]) Refs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Evict closes and forgets the session stored under key.
func (r *Registry[T]) Evict(key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.conn.Close()
}

// EvictIdle closes unreferenced sessions unused for longer than maxIdle.
func (r *Registry[T]) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	var victims []T
	for k, e := range r.entries {
		if e.refs == 0 && time.Since(e.lastUsed) > maxIdle {
			victims = append(victims, e.conn)
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()
	for _, c := range victims {
		c.Close()
	}
	return len(victims)
}

// Len returns the number of stored sessions.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every stored session.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry[T])
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
