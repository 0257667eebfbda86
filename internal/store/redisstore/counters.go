// internal/store/redisstore/counters.go
package redisstore

import (
	"context"
	"time"

	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// incrWithCeiling checks the current value against the ceiling and
// increments in one server-side step, closing the check-then-INCR race a
// client-side GET+INCR pair would have.
var incrWithCeiling = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur >= tonumber(ARGV[1]) then
  return {cur, 0}
end
cur = redis.call('INCR', KEYS[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {cur, 1}
`)

// decrFloor decrements without going below zero and drops the key at zero,
// mirroring the production bot's concurrent-counter cleanup.
var decrFloor = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
cur = redis.call('DECR', KEYS[1])
if cur <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return cur
`)

// Counters implements store.Counters on a single redis node.
type Counters struct {
	client *redis.Client
}

func NewCounters(client *redis.Client) *Counters {
	return &Counters{client: client}
}

func (c *Counters) IncrWithCeiling(ctx context.Context, key string, ceiling int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrWithCeiling.Run(ctx, c.client, []string{key}, ceiling, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, false, xerrors.StoreUnavailable(err)
	}
	val, _ := res[0].(int64)
	applied, _ := res[1].(int64)
	return val, applied == 1, nil
}

func (c *Counters) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, xerrors.StoreUnavailable(err)
	}
	return incr.Val(), nil
}

func (c *Counters) DecrFloor(ctx context.Context, key string) (int64, error) {
	val, err := decrFloor.Run(ctx, c.client, []string{key}).Int64()
	if err != nil {
		return 0, xerrors.StoreUnavailable(err)
	}
	return val, nil
}

func (c *Counters) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.StoreUnavailable(err)
	}
	return val, nil
}
