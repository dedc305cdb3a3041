package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/propertygo/viewing/internal/database"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFixedWindow_Allow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	limiter := NewFixedWindow(3, time.Minute, clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow(ctx, "1.2.3.4"); !ok {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if ok, _ := limiter.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("expected 4th request to be rejected")
	}
	if ok, _ := limiter.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("expected other key to have its own window")
	}

	clock.Advance(59 * time.Second)
	if ok, _ := limiter.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("expected window to still be closed")
	}

	clock.Advance(time.Second)
	if ok, _ := limiter.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatal("expected a new window after expiry")
	}
}

func TestFixedWindow_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	limiter := NewFixedWindow(1, time.Minute, clock.Now)
	ctx := context.Background()

	limiter.Allow(ctx, "a")
	limiter.Allow(ctx, "b")
	clock.Advance(2 * time.Minute)
	limiter.Allow(ctx, "c")

	if removed := limiter.Sweep(); removed != 2 {
		t.Errorf("expected 2 expired windows removed, got %d", removed)
	}
}

func TestFixedWindow_ConcurrentCallers(t *testing.T) {
	limiter := NewFixedWindow(10, time.Minute, nil)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(ctx, "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 10 {
		t.Errorf("expected exactly 10 allowed, got %d", allowed.Load())
	}
}

func TestSQLFixedWindow_Allow(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := database.Migrate(ctx, db.Conn); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	limiter := NewSQLFixedWindow(db.Conn, 2, time.Minute, clock.Now)

	for i, want := range []bool{true, true, false, false} {
		ok, err := limiter.Allow(ctx, "caller")
		if err != nil {
			t.Fatalf("allow failed: %v", err)
		}
		if ok != want {
			t.Errorf("request %d: expected allowed=%v, got %v", i+1, want, ok)
		}
	}

	clock.Advance(time.Minute)
	if ok, err := limiter.Allow(ctx, "caller"); err != nil || !ok {
		t.Errorf("expected new window to allow, got ok=%v err=%v", ok, err)
	}

	clock.Advance(5 * time.Minute)
	if removed, err := limiter.Sweep(ctx); err != nil || removed != 1 {
		t.Errorf("expected 1 expired window removed, got %d err=%v", removed, err)
	}
}
