package normalize

import (
	"context"
	"time"
)

// Window remembers recently accepted event keys.
type Window interface {
	// Seen records key and reports whether it was already recorded.
	Seen(ctx context.Context, key string) (bool, error)
}

// MemoryWindow is a bounded, TTL-limited in-process window. It is owned by
// the engine loop and is not safe for concurrent use.
type MemoryWindow struct {
	size    int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
	order   []string
}

func NewMemoryWindow(size int, ttl time.Duration) *MemoryWindow {
	if size <= 0 {
		size = 1024
	}
	return &MemoryWindow{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time, size),
	}
}

func (w *MemoryWindow) Seen(_ context.Context, key string) (bool, error) {
	now := w.now()
	w.evict(now)
	if _, ok := w.entries[key]; ok {
		return true, nil
	}
	w.entries[key] = now
	w.order = append(w.order, key)
	if len(w.order) > w.size {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.entries, oldest)
	}
	return false, nil
}

func (w *MemoryWindow) Len() int { return len(w.entries) }

func (w *MemoryWindow) evict(now time.Time) {
	if w.ttl <= 0 {
		return
	}
	n := 0
	for n < len(w.order) {
		at, ok := w.entries[w.order[n]]
		if ok && now.Sub(at) < w.ttl {
			break
		}
		delete(w.entries, w.order[n])
		n++
	}
	if n > 0 {
		w.order = w.order[n:]
	}
}
