package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers message IDs so webhook retries do not re-run the
// conversation pipeline. Seen reports whether the ID was already recorded,
// recording it as a side effect when it was not.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// RedisDeduper marks IDs with SETNX under a TTL, so the set is shared
// across replicas and bounded in size.
type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisDeduper(addr, password string, ttl time.Duration) *RedisDeduper {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDeduper{Client: c, TTL: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	set, err := d.Client.SetNX(ctx, "msg:seen:"+messageID, 1, d.TTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (d *RedisDeduper) Close() error { return d.Client.Close() }

// MemoryDeduper is the single-replica fallback when Redis is not
// configured. Entries lapse after the TTL; expired ones are dropped
// opportunistically on each call.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Seen(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[messageID]; ok {
		return true, nil
	}
	d.seen[messageID] = now
	return false, nil
}
