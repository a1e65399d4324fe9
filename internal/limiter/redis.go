package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "limiter:user:"

const releaseTimeout = 2 * time.Second

// acquireScript returns {admitted, count}. The key expires after ARGV[2] ms
// so a crashed holder cannot pin a user forever.
var acquireScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n > tonumber(ARGV[1]) then
	redis.call('DECR', KEYS[1])
	return {0, n - 1}
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, n}
`)

var releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
end
return n
`)

var _ Limiter = (*Redis)(nil)

// Redis shares the in-flight counters between all API replicas.
type Redis struct {
	rdb redis.Scripter
	max int64
	ttl time.Duration
}

func NewRedis(rdb redis.Scripter, maxConcurrent int64, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, max: maxConcurrent, ttl: ttl}
}

func key(userID ids.UserID) string {
	return keyPrefix + userID.String()
}

func (r *Redis) Acquire(ctx context.Context, userID ids.UserID) (func(), error) {
	k := key(userID)

	res, err := acquireScript.Run(ctx, r.rdb, []string{k}, r.max, r.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire limiter slot: %w", err)
	}

	if len(res) != 2 {
		return nil, fmt.Errorf("acquire limiter slot: unexpected reply %v", res)
	}

	if res[0] == 0 {
		return nil, apperr.ConcurrentOperationExceeded(res[1], r.max)
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()

			err := releaseScript.Run(rctx, r.rdb, []string{k}).Err()
			if err != nil {
				slog.Warn("release limiter slot", "user_id", userID, "error", err)
			}
		})
	}, nil
}
