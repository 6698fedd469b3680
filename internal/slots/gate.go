package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Gate is the Redis fast-path in front of the durable ledger. A denied
// gate saves a reservation transaction under contention; a granted gate
// still has to pass ReserveTx, which remains the source of truth. TTLs
// bound any leak from a crashed process.
type Gate struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGate(rdb *redis.Client, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Gate{rdb: rdb, ttl: ttl}
}

func userKey(userID string) string { return fmt.Sprintf("slots:user:%s", userID) }

const systemKey = "slots:system"

// Acquire takes both the per-user and the system gate. If the system gate
// denies after the user gate granted, the user gate is rolled back.
func (g *Gate) Acquire(ctx context.Context, userID string, userLimit, systemLimit int) (bool, error) {
	if g == nil || g.rdb == nil {
		// No Redis: the durable ledger alone decides.
		return true, nil
	}
	ok, err := utils.AcquireSlotGate(ctx, g.rdb, userKey(userID), userLimit, g.ttl)
	if err != nil || !ok {
		return false, err
	}
	ok, err = utils.AcquireSlotGate(ctx, g.rdb, systemKey, systemLimit, g.ttl)
	if err != nil || !ok {
		_ = utils.ReleaseSlotGate(ctx, g.rdb, userKey(userID))
		return false, err
	}
	return true, nil
}

// Release returns both gates. Safe to call after a denied durable
// reservation; the Lua script floors counters at zero.
func (g *Gate) Release(ctx context.Context, userID string) {
	if g == nil || g.rdb == nil {
		return
	}
	_ = utils.ReleaseSlotGate(ctx, g.rdb, userKey(userID))
	_ = utils.ReleaseSlotGate(ctx, g.rdb, systemKey)
}
