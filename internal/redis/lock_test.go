package redisclient

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func assertExclusive(t *testing.T, l Locker, key string) {
	t.Helper()
	var inside, maxInside atomic.Int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			return l.WithLock(ctx, key, func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if got := maxInside.Load(); got != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", got)
	}
}

func TestLocalLocker_Exclusive(t *testing.T) {
	assertExclusive(t, NewLocalLocker(), "slots:date:2024-03-04")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	done := make(chan error, 1)

	err := l.WithLock(context.Background(), "a", func(ctx context.Context) error {
		go func() {
			done <- l.WithLock(ctx, "b", func(context.Context) error { return nil })
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(time.Second):
			return errors.New("lock on b blocked behind a")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(l.locks) != 0 {
		t.Fatalf("%d lock entries leaked", len(l.locks))
	}
}

func TestLocalLocker_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLocalLocker()
	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := l.WithLock(ctx, "k", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestLocalLocker_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	if err := NewLocalLocker().WithLock(context.Background(), "k", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func newTestRedisLocker(t *testing.T, wait time.Duration) Locker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client, err := NewRedisClient(context.Background(), ClientOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, 5*time.Second, wait)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l := newTestRedisLocker(t, 5*time.Second)
	assertExclusive(t, l, "test:"+uuid.NewString())
}

func TestRedisLocker_GivesUpAfterWait(t *testing.T) {
	l := newTestRedisLocker(t, 50*time.Millisecond)
	key := "test:" + uuid.NewString()

	err := l.WithLock(context.Background(), key, func(ctx context.Context) error {
		return l.WithLock(ctx, key, func(context.Context) error { return nil })
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("err = %v, want ErrLockNotAcquired", err)
	}

	// released after the outer holder returned
	if err := l.WithLock(context.Background(), key, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("relock: %v", err)
	}
}
