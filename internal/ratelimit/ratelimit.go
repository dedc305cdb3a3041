// Package ratelimit throttles requests per caller with fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/propertygo/viewing/internal/repository"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count   int
	expires time.Time
}

// FixedWindow is a per-process limiter. Each instance of the service keeps its
// own counters, so it only bounds traffic per instance.
type FixedWindow struct {
	max    int
	length time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewFixedWindow creates a limiter allowing max requests per key in each window
func NewFixedWindow(max int, length time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{
		max:     max,
		length:  length,
		now:     now,
		windows: make(map[string]*window),
	}
}

// Allow counts a request for key
func (l *FixedWindow) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		l.windows[key] = &window{count: 1, expires: now.Add(l.length)}
		return true, nil
	}
	if w.count >= l.max {
		return false, nil
	}
	w.count++
	return true, nil
}

// Sweep drops expired windows and returns how many were removed
func (l *FixedWindow) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// SQLFixedWindow keeps counters in the database so that every instance of the
// service shares them. Each call is a single atomic upsert.
type SQLFixedWindow struct {
	db     repository.DBExecutor
	repo   *repository.RateLimitRepository
	max    int
	length time.Duration
	now    func() time.Time
}

// NewSQLFixedWindow creates a database-backed limiter
func NewSQLFixedWindow(db repository.DBExecutor, max int, length time.Duration, now func() time.Time) *SQLFixedWindow {
	if now == nil {
		now = time.Now
	}
	return &SQLFixedWindow{
		db:     db,
		repo:   repository.NewRateLimitRepository(),
		max:    max,
		length: length,
		now:    now,
	}
}

// Allow counts a request for key
func (l *SQLFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	hits, err := l.repo.Hit(ctx, l.db, key, l.now().UTC(), l.length)
	if err != nil {
		return false, err
	}
	return hits <= l.max, nil
}

// Sweep deletes expired counters
func (l *SQLFixedWindow) Sweep(ctx context.Context) (int64, error) {
	return l.repo.DeleteExpired(ctx, l.db, l.now().UTC())
}
