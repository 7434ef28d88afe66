package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rate limit scopes used by the HTTP layer.
const (
	ScopeLogin  = "login"
	ScopeAPI    = "api"
	ScopeSubmit = "submit"
)

// RateLimitRule caps how many requests one subject may make in a scope per window.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitPolicy maps scopes to rules. Scopes without a positive rule are unlimited.
type RateLimitPolicy map[string]RateLimitRule

// NewRateLimitPolicy builds the per-minute policy: a per-IP login budget, a general
// per-user API budget and a tighter per-owner budget for payout submissions.
func NewRateLimitPolicy(loginPerMinute, apiPerMinute, submitPerMinute int) RateLimitPolicy {
	return RateLimitPolicy{
		ScopeLogin:  {Limit: loginPerMinute, Window: time.Minute},
		ScopeAPI:    {Limit: apiPerMinute, Window: time.Minute},
		ScopeSubmit: {Limit: submitPerMinute, Window: time.Minute},
	}
}

// RateLimitDecision is the outcome of one Allow call.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// slidingWindowScript keeps one sorted-set member per accepted request, scored by
// its timestamp in ms. Rejected requests are not recorded and do not extend the wait.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local used = redis.call("ZCARD", KEYS[1])
if used >= limit then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {0, used, wait}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, used + 1, 0}
`)

// RedisRateLimiter enforces a RateLimitPolicy with a sliding window shared by every API instance.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	policy RateLimitPolicy
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, policy RateLimitPolicy) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "payouts"
	}

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix + ":ratelimit",
		policy: policy,
		now:    time.Now,
	}
}

// Allow records one request for subject in scope if the scope's budget permits it.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string) (RateLimitDecision, error) {
	if r == nil || r.client == nil {
		return RateLimitDecision{Allowed: true}, nil
	}
	rule, ok := r.policy[scope]
	subject = strings.TrimSpace(subject)
	if !ok || rule.Limit <= 0 || rule.Window <= 0 || subject == "" {
		return RateLimitDecision{Allowed: true}, nil
	}

	windowMs := rule.Window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	raw, err := slidingWindowScript.Run(ctx, r.client, []string{key},
		r.now().UnixMilli(), windowMs, rule.Limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if len(raw) != 3 {
		return RateLimitDecision{}, fmt.Errorf("rate limit %s: unexpected reply length %d", scope, len(raw))
	}

	decision := RateLimitDecision{
		Allowed:   raw[0] == 1,
		Limit:     rule.Limit,
		Remaining: rule.Limit - int(raw[1]),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(raw[2]) * time.Millisecond
		if decision.RetryAfter < time.Second {
			decision.RetryAfter = time.Second
		}
	}
	return decision, nil
}
