// internal/cache/cache_test.go
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb, ttl), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.SetJSON(ctx, "leaderboard:10", payload{Name: "board", Count: 10})

	var got payload
	if !c.GetJSON(ctx, "leaderboard:10", &got) {
		t.Fatal("expected a cache hit")
	}
	if got.Name != "board" || got.Count != 10 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestMissAndExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()

	var got payload
	if c.GetJSON(ctx, "absent", &got) {
		t.Fatal("expected a miss for an absent key")
	}

	c.SetJSON(ctx, "ephemeral", payload{Name: "x"})
	mr.FastForward(2 * time.Second)
	if c.GetJSON(ctx, "ephemeral", &got) {
		t.Fatal("expected the entry to expire")
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.SetJSON(ctx, "a", payload{Name: "a"})
	c.Invalidate(ctx, "a")

	var got payload
	if c.GetJSON(ctx, "a", &got) {
		t.Fatal("expected invalidated key to miss")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.SetJSON(ctx, "leaderboard:10", payload{Count: 10})
	c.SetJSON(ctx, "leaderboard:50", payload{Count: 50})
	c.SetJSON(ctx, "invite:ABCD", payload{Name: "kept"})

	c.InvalidatePrefix(ctx, "leaderboard:")

	var got payload
	if c.GetJSON(ctx, "leaderboard:10", &got) || c.GetJSON(ctx, "leaderboard:50", &got) {
		t.Fatal("expected every leaderboard page to be dropped")
	}
	if !c.GetJSON(ctx, "invite:ABCD", &got) {
		t.Fatal("unrelated keys must survive a prefix invalidation")
	}
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var c *ResponseCache
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{})
	c.Invalidate(ctx, "k")
	var got payload
	if c.GetJSON(ctx, "k", &got) {
		t.Fatal("nil cache must miss")
	}
}
