//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRedis struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	f.expires[key] = expiration
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.counts, k)
	}
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRateLimiterAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to the limit then refuses", func(t *testing.T) {
		cli := newFakeRedis()
		rl := NewRateLimiter(cli, 3, time.Minute)

		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "meta")
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if !ok {
				t.Fatalf("request %d should be admitted", i+1)
			}
		}
		ok, err := rl.Allow(ctx, "meta")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if ok {
			t.Error("fourth request should be refused")
		}
	})

	t.Run("budgets are per platform", func(t *testing.T) {
		cli := newFakeRedis()
		rl := NewRateLimiter(cli, 1, time.Minute)

		if ok, _ := rl.Allow(ctx, "meta"); !ok {
			t.Fatal("first meta request refused")
		}
		if ok, _ := rl.Allow(ctx, "meta"); ok {
			t.Fatal("second meta request admitted")
		}
		if ok, _ := rl.Allow(ctx, "tiktok"); !ok {
			t.Error("tiktok budget must be independent of meta's")
		}
	})

	t.Run("window expiry is set on the first hit only", func(t *testing.T) {
		cli := newFakeRedis()
		rl := NewRateLimiter(cli, 5, 30*time.Second)

		_, _ = rl.Allow(ctx, "meta")
		_, _ = rl.Allow(ctx, "meta")

		if got := cli.expires[PlatformKey("meta")]; got != 30*time.Second {
			t.Errorf("expire = %v", got)
		}
	})

	t.Run("reset reopens a spent budget", func(t *testing.T) {
		cli := newFakeRedis()
		rl := NewRateLimiter(cli, 1, time.Minute)

		_, _ = rl.Allow(ctx, "meta")
		if ok, _ := rl.Allow(ctx, "meta"); ok {
			t.Fatal("budget should be spent")
		}
		if err := rl.Reset(ctx, "meta"); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if ok, _ := rl.Allow(ctx, "meta"); !ok {
			t.Error("budget should be reopened after reset")
		}
	})

	t.Run("nil limiter admits everything", func(t *testing.T) {
		var rl *RateLimiter
		ok, err := rl.Allow(ctx, "meta")
		if err != nil || !ok {
			t.Errorf("ok=%v err=%v", ok, err)
		}
	})

	t.Run("zero limit disables limiting", func(t *testing.T) {
		cli := newFakeRedis()
		rl := NewRateLimiter(cli, 0, time.Minute)
		ok, err := rl.Allow(ctx, "meta")
		if err != nil || !ok {
			t.Errorf("ok=%v err=%v", ok, err)
		}
		if len(cli.counts) != 0 {
			t.Error("disabled limiter must not touch redis")
		}
	})

	t.Run("redis failure surfaces", func(t *testing.T) {
		cli := newFakeRedis()
		cli.incrErr = errors.New("connection refused")
		rl := NewRateLimiter(cli, 3, time.Minute)
		ok, err := rl.Allow(ctx, "meta")
		if err == nil || ok {
			t.Errorf("ok=%v err=%v", ok, err)
		}
	})
}
