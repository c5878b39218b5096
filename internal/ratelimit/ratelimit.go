// Package ratelimit implements three interchangeable rate-limit
// backends: an in-memory fixed window for single-instance deployments, a
// database sliding window for multi-instance durability, and a
// secondary-storage INCR-based counter for low-latency multi-instance
// deployments, all behind one Limiter interface.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tishiu/summa/internal/storage"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Memory is a fixed-window limiter backed by an LRU-evicted map, used
// when only one API instance is running.
type Memory struct {
	mu       sync.Mutex
	windows  map[string]*memWindow
	lru      *list.List
	elems    map[string]*list.Element
	maxKeys  int
}

type memWindow struct {
	count      int
	windowEnd  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		windows: map[string]*memWindow{},
		lru:     list.New(),
		elems:   map[string]*list.Element{},
		maxKeys: 10000,
	}
}

func (m *Memory) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	w, ok := m.windows[key]
	if !ok || now.After(w.windowEnd) {
		w = &memWindow{count: 0, windowEnd: now.Add(window)}
		m.windows[key] = w
		m.touch(key)
	}

	w.count++
	m.evictIfNeeded()

	if w.count > limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: w.windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - w.count}, nil
}

func (m *Memory) touch(key string) {
	if e, ok := m.elems[key]; ok {
		m.lru.MoveToFront(e)
		return
	}
	m.elems[key] = m.lru.PushFront(key)
}

// evictIfNeeded caps memory use at 10000 distinct keys, LRU-evicting the
// least recently touched window once the cap is exceeded.
func (m *Memory) evictIfNeeded() {
	for len(m.windows) > m.maxKeys {
		back := m.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		m.lru.Remove(back)
		delete(m.elems, key)
		delete(m.windows, key)
	}
}

// Database is a sliding-window limiter durable across instances: each
// request is logged to rate_limit_log and the window count is a COUNT(*)
// over the trailing interval.
type Database struct {
	Schema string
	Store  *storage.Store
}

func NewDatabase(store *storage.Store) *Database {
	return &Database{Schema: store.Schema, Store: store}
}

func (d *Database) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	var count int
	err := d.Store.Pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.rate_limit_log
		WHERE key = $1 AND created_at >= now() - %s
	`, d.Schema, storage.Interval(window)), key).Scan(&count)
	if err != nil {
		return Decision{}, storage.TranslateErr(err)
	}
	if count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: window}, nil
	}
	_, err = d.Store.Pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.rate_limit_log (key, created_at) VALUES ($1, now())
	`, d.Schema), key)
	if err != nil {
		return Decision{}, storage.TranslateErr(err)
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count - 1}, nil
}

// SecondaryStore is the minimal INCR-with-TTL interface an external
// key-value counter needs; a concrete adapter for whichever store is
// configured implements this.
type SecondaryStore interface {
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Secondary struct {
	Store SecondaryStore
}

func NewSecondary(store SecondaryStore) *Secondary {
	return &Secondary{Store: store}
}

func (s *Secondary) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, err := s.Store.IncrWithExpire(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}
	if count > int64(limit) {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: window}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - int(count)}, nil
}

// Headers renders the X-RateLimit-* response headers for a Decision,
// plus Retry-After when the request was denied.
func Headers(d Decision) map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     fmt.Sprintf("%d", d.Limit),
		"X-RateLimit-Remaining": fmt.Sprintf("%d", d.Remaining),
	}
	if !d.Allowed {
		h["Retry-After"] = fmt.Sprintf("%d", int(d.RetryAfter.Seconds()))
	}
	return h
}
