package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is the one command shape the limiter issues: prune,
// count, conditionally insert, and refresh expiry for every window of a key
// in a single server-side execution. Redis serializes script runs per node,
// which is what makes concurrent TryAcquire calls race-free.
//
// KEYS[i]        zset holding the timestamp log for window i
// ARGV[1]        now, unix milliseconds
// ARGV[2]        member nonce for this request
// ARGV[2i+1]     window i length, milliseconds
// ARGV[2i+2]     window i max requests
//
// Reply: {admitted, count_1, oldest_1, count_2, oldest_2, ...} where count
// is the post-decision cardinality and oldest the score of the oldest
// surviving entry (now when the log is empty).
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local member = ARGV[2]

local counts = {}
for i = 1, #KEYS do
  local window = tonumber(ARGV[2 * i + 1])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], 0, now - window)
  counts[i] = redis.call('ZCARD', KEYS[i])
end

local admitted = 1
for i = 1, #KEYS do
  local max = tonumber(ARGV[2 * i + 2])
  if counts[i] >= max then
    admitted = 0
  end
end

if admitted == 1 then
  for i = 1, #KEYS do
    local window = tonumber(ARGV[2 * i + 1])
    redis.call('ZADD', KEYS[i], now, member)
    redis.call('PEXPIRE', KEYS[i], window)
    counts[i] = counts[i] + 1
  end
end

local reply = {admitted}
for i = 1, #KEYS do
  local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then
    score = tonumber(oldest[2])
  end
  reply[#reply + 1] = counts[i]
  reply[#reply + 1] = score
end
return reply
`

// RedisLimiter enforces sliding-window quotas against a shared Redis, so
// all gateway replicas see one consistent count per key. The client is an
// injected dependency; its lifecycle belongs to the caller.
type RedisLimiter struct {
	client  redis.UniversalClient
	script  *redis.Script
	timeout time.Duration
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithTimeout bounds every store round trip. The bound is independent of
// any quota window; on expiry TryAcquire reports ErrStoreUnavailable.
func WithTimeout(d time.Duration) RedisOption {
	return func(l *RedisLimiter) { l.timeout = d }
}

// NewRedisLimiter creates a limiter on top of an existing Redis client.
func NewRedisLimiter(client redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client:  client,
		script:  redis.NewScript(slidingWindowScript),
		timeout: 150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire implements Limiter.
func (l *RedisLimiter) TryAcquire(ctx context.Context, key string, quotas []Quota, now time.Time) (*Decision, error) {
	if err := validateQuotas(quotas); err != nil {
		return nil, err
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	nowMs := now.UnixMilli()

	// The nonce disambiguates same-millisecond entries; without it two
	// concurrent requests would collapse into one zset member.
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	keys := windowKeys(key, len(quotas))
	args := make([]interface{}, 0, 2+2*len(quotas))
	args = append(args, nowMs, member)
	for _, q := range quotas {
		args = append(args, q.Window.Milliseconds(), q.MaxRequests)
	}

	res, err := l.script.Run(ctx, l.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return parseScriptReply(res, quotas)
}

func parseScriptReply(res interface{}, quotas []Quota) (*Decision, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 1+2*len(quotas) {
		return nil, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	admitted, err := replyInt(arr[0])
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Admitted: admitted == 1,
		Usages:   make([]Usage, 0, len(quotas)),
	}

	for i, q := range quotas {
		count, err := replyInt(arr[1+2*i])
		if err != nil {
			return nil, err
		}
		oldest, err := replyInt(arr[2+2*i])
		if err != nil {
			return nil, err
		}

		remaining := q.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		decision.Usages = append(decision.Usages, Usage{
			Quota:     q,
			Remaining: remaining,
			ResetAt:   time.UnixMilli(oldest + q.Window.Milliseconds()),
		})
	}

	return decision, nil
}

func replyInt(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: non-integer script reply element %v", ErrStoreUnavailable, v)
	}
	return n, nil
}
