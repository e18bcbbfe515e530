package ratelimit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	redis "github.com/redis/go-redis/v9"
)

// fixedWindow admits while the counter is below ARGV[1]; the first hit of a
// window sets its expiry to ARGV[2] milliseconds.
var fixedWindow = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[1]) then
	return 0
end
c = redis.call('INCR', KEYS[1])
if c == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// Redis is a Limiter shared by every instance pointing at the same server.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	period time.Duration
}

func NewRedis(client *redis.Client, prefix string, limit int, period time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}
	if prefix == "" {
		prefix = "copytrade:ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, limit: limit, period: period}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.limit, r.period.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis rate limit %s", key)
	}
	return ok == 1, nil
}
