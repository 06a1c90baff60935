package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	lockKeyPrefix = "raffle_lock:"
	// DrawPendingPrefix keys arm the draw-timeout fallback: the key expiring
	// without a fulfillment is the signal to cancel the stuck raffle.
	DrawPendingPrefix = "draw_pending:"
)

// Redis serializes state-mutating calls per raffle. One SetNX lock per raffle
// id means no two mutations on the same raffle interleave, while different
// raffles proceed independently.
type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &Redis{Client: client, LockTTL: lockTTL}
}

// AcquireRaffleLock takes the mutation lock for a raffle. The token
// identifies the holder so an expired lock can't be released by a stale
// caller.
func (r *Redis) AcquireRaffleLock(raffleID int64, token string) (bool, error) {
	key := lockKeyPrefix + fmt.Sprint(raffleID)
	return r.Client.SetNX(context.Background(), key, token, r.LockTTL).Result()
}

func (r *Redis) ReleaseRaffleLock(raffleID int64, token string) error {
	ctx := context.Background()
	key := lockKeyPrefix + fmt.Sprint(raffleID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // TTL already reclaimed it
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// ArmDrawTimeout sets the timeout key for a raffle whose draw was just
// requested. The value is the request id so the expiry handler can tell
// which request went stale.
func (r *Redis) ArmDrawTimeout(raffleID int64, requestID string, ttl time.Duration) error {
	key := DrawPendingPrefix + fmt.Sprint(raffleID)
	return r.Client.Set(context.Background(), key, requestID, ttl).Err()
}

// DisarmDrawTimeout clears the timeout key once the fulfillment landed.
func (r *Redis) DisarmDrawTimeout(raffleID int64) error {
	key := DrawPendingPrefix + fmt.Sprint(raffleID)
	_, err := r.Client.Del(context.Background(), key).Result()
	if err == redis.Nil {
		return nil
	}
	return err
}
