package normalize

import (
    "context"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 10 * time.Minute

// RedisWindow keeps the dedupe window in Redis so redeliveries are still
// recognised after a client restart.
type RedisWindow struct {
    rdb    *redis.Client
    prefix string
    ttl    time.Duration
}

func NewRedisWindow(rdb *redis.Client, userID string, ttl time.Duration) *RedisWindow {
    if ttl <= 0 { ttl = defaultRedisTTL }
    return &RedisWindow{rdb: rdb, prefix: "roomlink:dedupe:" + strings.TrimSpace(userID) + ":", ttl: ttl}
}

// NewRedisWindowFromURL parses a redis:// URL and pings the server.
func NewRedisWindowFromURL(ctx context.Context, url, userID string, ttl time.Duration) (*RedisWindow, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return NewRedisWindow(rdb, userID, ttl), nil
}

func (w *RedisWindow) key(k string) string { return w.prefix + k }

func (w *RedisWindow) Seen(ctx context.Context, key string) (bool, error) {
    ok, err := w.rdb.SetNX(ctx, w.key(key), 1, w.ttl).Result()
    if err != nil { return false, err }
    return !ok, nil
}

func (w *RedisWindow) Close() error {
    if w == nil || w.rdb == nil { return nil }
    return w.rdb.Close()
}
