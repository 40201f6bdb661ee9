package normalize

import (
    "context"
    "fmt"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"
)

func newTestRedisWindow(t *testing.T, ttl time.Duration) (*RedisWindow, *miniredis.Miniredis) {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    t.Cleanup(mr.Close)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    return NewRedisWindow(rdb, "u1", ttl), mr
}

func TestRedisWindowSeen(t *testing.T) {
    w, mr := newTestRedisWindow(t, time.Minute)
    ctx := context.Background()

    seen, err := w.Seen(ctx, "msg:m1")
    if err != nil || seen { t.Fatalf("first Seen: seen=%v err=%v", seen, err) }
    seen, err = w.Seen(ctx, "msg:m1")
    if err != nil || !seen { t.Fatalf("second Seen: seen=%v err=%v", seen, err) }

    if !mr.Exists("roomlink:dedupe:u1:msg:m1") { t.Fatalf("expected namespaced key") }
    if ttl := mr.TTL("roomlink:dedupe:u1:msg:m1"); ttl != time.Minute { t.Fatalf("ttl = %v", ttl) }

    mr.FastForward(2 * time.Minute)
    seen, _ = w.Seen(ctx, "msg:m1")
    if seen { t.Fatalf("expected key to expire") }
}

func TestRedisWindowFromURL(t *testing.T) {
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    defer mr.Close()

    w, err := NewRedisWindowFromURL(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), "u2", 0)
    if err != nil { t.Fatalf("NewRedisWindowFromURL: %v", err) }
    defer w.Close()
    if w.ttl != defaultRedisTTL { t.Fatalf("default ttl not applied: %v", w.ttl) }

    n := New(w, nil, nil)
    f := frame(t, "player.left", "r1", 9, map[string]string{"userId": "u3"})
    if _, ok := n.Normalize(context.Background(), f); !ok { t.Fatalf("first delivery dropped") }
    if _, ok := n.Normalize(context.Background(), f); ok { t.Fatalf("redelivery accepted") }
}
