package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the moving window on Redis sorted sets, one set
// per key and rule, scored by hit time. Limits hold across instances.
type RedisLimiter struct {
	client *redis.Client
	rules  []Rule
}

func NewRedisLimiter(client *redis.Client, rules []Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules}
}

func (r *RedisLimiter) Test(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	pipe := r.client.Pipeline()

	counts := make([]*redis.IntCmd, len(r.rules))
	for i, rule := range r.rules {
		k := r.ruleKey(key, rule)
		cutoff := now.Add(-rule.Window).UnixNano()
		pipe.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", cutoff))
		counts[i] = pipe.ZCard(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit probe: %w", err)
	}

	for i, rule := range r.rules {
		if counts[i].Val() >= int64(rule.Limit) {
			return false, nil
		}
	}
	return true, nil
}

// hitScript prunes, checks and records in one atomic step, so two
// concurrent hits on the same key cannot both pass the count check.
// ARGV is member, score, then cutoff/limit/ttl per key.
var hitScript = redis.NewScript(`
for i = 1, #KEYS do
	redis.call("ZREMRANGEBYSCORE", KEYS[i], 0, ARGV[3*i])
	if redis.call("ZCARD", KEYS[i]) >= tonumber(ARGV[3*i+1]) then
		return 0
	end
end
for i = 1, #KEYS do
	redis.call("ZADD", KEYS[i], ARGV[2], ARGV[1])
	redis.call("EXPIRE", KEYS[i], ARGV[3*i+2])
end
return 1
`)

func (r *RedisLimiter) Hit(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	keys := make([]string, len(r.rules))
	args := make([]interface{}, 0, 2+3*len(r.rules))
	args = append(args, uuid.NewString(), now.UnixNano())
	for i, rule := range r.rules {
		keys[i] = r.ruleKey(key, rule)
		args = append(args,
			now.Add(-rule.Window).UnixNano(),
			rule.Limit,
			int(rule.Window.Seconds()))
	}

	admitted, err := hitScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit hit: %w", err)
	}
	return admitted == 1, nil
}

func (r *RedisLimiter) ruleKey(key string, rule Rule) string {
	return fmt.Sprintf("%s:%s:%ds", Namespace, key, int(rule.Window.Seconds()))
}
