package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configure the Redis-backed coordinator, used when several
// node processes must share a single rate budget against the same
// source-chain RPC quota.
type RedisOptions struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// reserveScript is a sliding-window rate limiter: it drops expired
// members, checks the window's cardinality against limit, and — if under
// budget — adds the caller's unique member. Grounded on
// enforcement-agent/internal/ratelimit/redis.go's reserveScript.
const reserveScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local expire = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
if expire > 0 then
  redis.call('PEXPIRE', key, expire)
end
return 1
`

type redisCoordinator struct {
	client   *redis.Client
	prefix   string
	sha      string
	shaMutex sync.Mutex
}

func newRedisCoordinator(opts RedisOptions) (Coordinator, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("ratelimit: redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &redisCoordinator{client: client, prefix: opts.KeyPrefix}, nil
}

func (r *redisCoordinator) Reserve(ctx context.Context, scope string, window time.Duration, limit int, now time.Time) (Reservation, error) {
	key := r.key(scope)
	member := uuid.NewString()
	args := []any{now.UnixMilli(), window.Milliseconds(), limit, member, (window * 2).Milliseconds()}

	allowed, err := r.eval(ctx, key, args...)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if allowed == 0 {
		return nil, ErrRateLimitExceeded
	}
	return &redisReservation{client: r.client, key: key, member: member}, nil
}

func (r *redisCoordinator) key(scope string) string {
	if r.prefix == "" {
		return fmt.Sprintf("rl:%s", scope)
	}
	return fmt.Sprintf("%s:%s", r.prefix, scope)
}

func (r *redisCoordinator) eval(ctx context.Context, key string, args ...any) (int64, error) {
	sha := r.loadScript(ctx)
	var res any
	var err error
	if sha != "" {
		res, err = r.client.EvalSha(ctx, sha, []string{key}, args...).Result()
		if err != nil {
			res, err = r.client.Eval(ctx, reserveScript, []string{key}, args...).Result()
		}
	} else {
		res, err = r.client.Eval(ctx, reserveScript, []string{key}, args...).Result()
	}
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("ratelimit: unexpected redis reply %v", res)
	}
}

func (r *redisCoordinator) loadScript(ctx context.Context) string {
	r.shaMutex.Lock()
	defer r.shaMutex.Unlock()
	if r.sha != "" {
		return r.sha
	}
	sha, err := r.client.ScriptLoad(ctx, reserveScript).Result()
	if err != nil {
		return ""
	}
	r.sha = sha
	return sha
}

type redisReservation struct {
	client *redis.Client
	key    string
	member string
}

func (r *redisReservation) Release(ctx context.Context) error {
	return r.client.ZRem(ctx, r.key, r.member).Err()
}
