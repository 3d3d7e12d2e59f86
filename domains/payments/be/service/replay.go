package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrReplayDetected is returned when a webhook carries a timestamp at or
// before the last one seen for the same reference.
var ErrReplayDetected = errors.New("replay detected")

// ReplayGuard tracks a monotonic timestamp watermark per payment reference.
// Check admits a notification only when its timestamp is strictly newer than
// the stored watermark, then advances the watermark.
type ReplayGuard interface {
	Check(ctx context.Context, reference string, ts time.Time) error
}

// MemoryReplayGuard is the in-process guard for single-instance deployments
// and tests.
type MemoryReplayGuard struct {
	mu        sync.Mutex
	seen      map[string]watermark
	retention time.Duration
	now       func() time.Time
}

type watermark struct {
	ts      time.Time
	savedAt time.Time
}

// NewMemoryReplayGuard creates a guard that forgets references after the
// retention window.
func NewMemoryReplayGuard(retention time.Duration) *MemoryReplayGuard {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryReplayGuard{
		seen:      make(map[string]watermark),
		retention: retention,
		now:       time.Now,
	}
}

// Check implements ReplayGuard.
func (g *MemoryReplayGuard) Check(ctx context.Context, reference string, ts time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for ref, w := range g.seen {
		if now.Sub(w.savedAt) > g.retention {
			delete(g.seen, ref)
		}
	}

	if w, ok := g.seen[reference]; ok && !ts.After(w.ts) {
		return ErrReplayDetected
	}
	g.seen[reference] = watermark{ts: ts, savedAt: now}
	return nil
}

// Advance the watermark only when the incoming timestamp is strictly newer,
// and refresh the key's TTL. Runs atomically server-side so concurrent
// webhook deliveries across instances cannot both pass.
const replayScript = `
local current = redis.call("GET", KEYS[1])
if current and tonumber(ARGV[1]) <= tonumber(current) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`

// RedisReplayGuard shares the watermark across instances via Redis.
type RedisReplayGuard struct {
	client    redis.UniversalClient
	script    *redis.Script
	prefix    string
	retention time.Duration
}

// NewRedisReplayGuard creates a Redis-backed guard with the given retention.
func NewRedisReplayGuard(client redis.UniversalClient, retention time.Duration) *RedisReplayGuard {
	if client == nil {
		panic("redis client is required")
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisReplayGuard{
		client:    client,
		script:    redis.NewScript(replayScript),
		prefix:    "fleetpay:replay",
		retention: retention,
	}
}

// Check implements ReplayGuard.
func (g *RedisReplayGuard) Check(ctx context.Context, reference string, ts time.Time) error {
	key := fmt.Sprintf("%s:%s", g.prefix, reference)
	admitted, err := g.script.Run(ctx, g.client,
		[]string{key},
		strconv.FormatInt(ts.UnixMilli(), 10),
		strconv.FormatInt(g.retention.Milliseconds(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("replay guard: %w", err)
	}
	if admitted == 0 {
		return ErrReplayDetected
	}
	return nil
}
