package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// INCRBY と PEXPIRE を一つのスクリプトで実行し、キー単位で原子的に数えます。
// ウィンドウの経過は Redis サーバー側の TTL で判定します。
var consumeScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// RedisStore は複数インスタンスで共有できる Store です。
type RedisStore struct {
	rdb redis.Scripter
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb redis.Scripter) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Consume は Store を満たします。
func (s *RedisStore) Consume(ctx context.Context, key string, cost int, rule Rule) (Result, error) {
	if key == "" {
		return Result{}, errors.New("key is required")
	}
	if cost <= 0 {
		cost = 1
	}
	windowMillis := rule.Window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	values, err := consumeScript.Run(ctx, s.rdb, []string{redisKeyPrefix + key}, cost, windowMillis).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run consume script: %w", err)
	}
	if len(values) != 2 {
		return Result{}, fmt.Errorf("unexpected consume script reply: %v", values)
	}

	return evaluate(int(values[0]), rule, time.Duration(values[1])*time.Millisecond), nil
}
