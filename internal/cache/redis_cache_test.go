package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type user struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRedisCache(t *testing.T) {
	c, _ := setupTestRedis(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisCacheBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetGetDelete(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "user:alice", user{Username: "alice", Email: "a@example.org"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.Exists("approval:user:alice") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := s.TTL("approval:user:alice"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	var got user
	if err := c.Get(ctx, "user:alice", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != "a@example.org" {
		t.Fatalf("unexpected value %+v", got)
	}

	if err := c.Delete(ctx, "user:alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Get(ctx, "user:alice", &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after delete, got %v", err)
	}
}

func TestEntryExpires(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.FastForward(2 * time.Minute)
	var v string
	if err := c.Get(ctx, "k", &v); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestFetchLoadsOnceThenHits(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	loads := 0
	load := func(context.Context) (user, error) {
		loads++
		return user{Username: "bob"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, c, "user:bob", load)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if got.Username != "bob" {
			t.Fatalf("unexpected value %+v", got)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}
}

func TestFetchWithoutCacheAndOnError(t *testing.T) {
	ctx := context.Background()
	loads := 0
	got, err := Fetch(ctx, nil, "k", func(context.Context) (int, error) {
		loads++
		return 7, nil
	})
	if err != nil || got != 7 || loads != 1 {
		t.Fatalf("unexpected nil-cache fetch %d %v", got, err)
	}

	c, _ := setupTestRedis(t)
	boom := errors.New("boom")
	if _, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	var v int
	if err := c.Get(ctx, "k", &v); !errors.Is(err, ErrMiss) {
		t.Fatal("failed loads must not be cached")
	}
}

func TestFetchSurvivesRedisOutage(t *testing.T) {
	c, s := setupTestRedis(t)
	s.Close()
	got, err := Fetch(context.Background(), c, "k", func(context.Context) (string, error) { return "fresh", nil })
	if err != nil || got != "fresh" {
		t.Fatalf("expected load to succeed without redis, got %q %v", got, err)
	}
}
