package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"helpdesk-chat/internal/domain"
)

// Solo escribe el conteo si ninguna invalidación ocurrió desde que se leyó la generación.
const redisRateSetScript = `
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

const redisRateInvalidateScript = `
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`

// La generación debe sobrevivir a cualquier conteo en curso.
const rateGenerationTTL = 24 * time.Hour

type redisRateClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisRateCache struct {
	client redisRateClient
	ttl    time.Duration
	prefix string
}

// NewRedisRateCache cachea conteos como "count|oldestUnixNano" junto a un contador de
// generación por conversación. Cualquier error de Redis se trata como miss y el conteo se
// recalcula contra el store.
func NewRedisRateCache(client *redis.Client, ttl time.Duration) RateCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisRateCache{
		client: client,
		ttl:    ttl,
		prefix: "chat:rl:",
	}
}

func (c *redisRateCache) key(ref domain.ChatRef) string {
	return c.prefix + ref.UserID + ":" + ref.ChatID
}

func (c *redisRateCache) genKey(ref domain.ChatRef) string {
	return c.prefix + "gen:" + ref.UserID + ":" + ref.ChatID
}

func (c *redisRateCache) Get(ctx context.Context, ref domain.ChatRef) (int, time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.client.Get(ctx, c.key(ref)).Result()
	if err != nil {
		return 0, time.Time{}, false
	}
	countPart, oldestPart, found := strings.Cut(raw, "|")
	if !found {
		return 0, time.Time{}, false
	}
	count, err := strconv.Atoi(countPart)
	if err != nil || count < 0 {
		return 0, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(oldestPart, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	var oldest time.Time
	if nanos > 0 {
		oldest = time.Unix(0, nanos).UTC()
	}
	return count, oldest, true
}

func (c *redisRateCache) Generation(ctx context.Context, ref domain.ChatRef) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	gen, err := c.client.Get(ctx, c.genKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		return "", false
	}
	return gen, true
}

func (c *redisRateCache) Set(ctx context.Context, ref domain.ChatRef, generation string, count int, oldest time.Time) {
	var nanos int64
	if !oldest.IsZero() {
		nanos = oldest.UnixNano()
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	value := strconv.Itoa(count) + "|" + strconv.FormatInt(nanos, 10)
	_ = c.client.Eval(ctx, redisRateSetScript, []string{c.key(ref), c.genKey(ref)},
		generation, value, c.ttl.Milliseconds()).Err()
}

func (c *redisRateCache) Invalidate(ctx context.Context, ref domain.ChatRef) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = c.client.Eval(ctx, redisRateInvalidateScript, []string{c.key(ref), c.genKey(ref)},
		rateGenerationTTL.Milliseconds()).Err()
}
