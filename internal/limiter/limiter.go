// Package limiter implements a sliding-window rate limiter on Redis sorted sets.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/raakeshmj/keyplane/internal/circuitbreaker"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/reliability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const KeyPrefix = "ratelimit:"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// slidingWindowScript evicts, counts and records one request atomically.
// KEYS[1] = window key
// ARGV[1] = now (unix ms)
// ARGV[2] = exclusive lower bound of the window, e.g. "(1700000000000"
// ARGV[3] = window length (ms)
// ARGV[4] = limit
// ARGV[5] = member
// Returns: [allowed (1/0), count, oldest score or -1]
const slidingWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[2])
local count = redis.call("ZCARD", key)

if count >= limit then
	local oldest = redis.call("ZRANGE", key, "0", "0", "WITHSCORES")
	local score = -1
	if oldest[2] then
		score = tonumber(oldest[2])
	end
	return {0, count, score}
end

redis.call("ZADD", key, ARGV[1], ARGV[5])
redis.call("PEXPIRE", key, ARGV[3])
return {1, count + 1, -1}
`

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether one more request under key fits in the window.
// Check never returns an error; backend failures are resolved by the
// configured failure strategy.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) Result
}

type SlidingWindow struct {
	client   redis.Cmdable
	script   *redis.Script
	clock    clock.Clock
	breaker  *circuitbreaker.CircuitBreaker
	strategy reliability.FailureStrategy
	log      *zap.Logger
}

type Option func(*SlidingWindow)

func WithClock(c clock.Clock) Option {
	return func(l *SlidingWindow) { l.clock = c }
}

func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(l *SlidingWindow) { l.breaker = b }
}

func WithFailureStrategy(s reliability.FailureStrategy) Option {
	return func(l *SlidingWindow) { l.strategy = s }
}

func NewSlidingWindow(client redis.Cmdable, log *zap.Logger, opts ...Option) *SlidingWindow {
	if log == nil {
		log = zap.NewNop()
	}
	l := &SlidingWindow{
		client:   client,
		script:   redis.NewScript(slidingWindowScript),
		clock:    clock.Real(),
		strategy: reliability.FailOpen,
		log:      log.Named("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SlidingWindow) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.clock.Now()
	if limit <= 0 {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: now.Add(window)}
	}

	res, err := l.eval(ctx, KeyPrefix+key, now, limit, window)
	if err != nil {
		l.log.Error("rate limit backend failure",
			zap.String("key", key),
			zap.String("strategy", string(l.strategy)),
			zap.Error(err),
		)
		if reliability.ShouldAllow(l.strategy, err) {
			return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: now.Add(window)}
	}
	return res
}

func (l *SlidingWindow) eval(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Result, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	floor := "(" + strconv.FormatInt(nowMs-windowMs, 10)
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var raw interface{}
	err := l.breaker.Execute(ctx, func() error {
		var err error
		raw, err = l.script.Run(ctx, l.client, []string{key}, nowMs, floor, windowMs, limit, member).Result()
		return err
	})
	if err != nil {
		return Result{}, err
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected script reply %T", raw)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldest, _ := vals[2].(int64)

	if allowed == 1 {
		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: now.Add(window)}, nil
	}

	resetAt := now.Add(window)
	if oldest >= 0 {
		resetAt = time.UnixMilli(oldest).UTC().Add(window)
	}
	return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
}

var _ Limiter = (*SlidingWindow)(nil)
