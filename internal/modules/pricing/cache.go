// README: Redis read-through cache in front of a RateSource.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"movebid/internal/types"
)

const rateKeyPrefix = "pricing:rates:"

// CachedSource serves recent snapshots from Redis. A cached snapshot is used only if
// every rate in it is still effective at the requested time and it is younger than ttl.
// Redis failures fall through to the underlying source.
type CachedSource struct {
	rdb  *redis.Client
	next RateSource
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedSource(rdb *redis.Client, next RateSource, ttl time.Duration, log *zap.Logger) *CachedSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedSource{rdb: rdb, next: next, ttl: ttl, log: log}
}

func rateKey(transportID types.ID) string {
	return rateKeyPrefix + string(transportID)
}

func (c *CachedSource) ActiveRates(ctx context.Context, transportID types.ID, at time.Time) (RateSnapshot, error) {
	if snap, ok := c.lookup(ctx, transportID, at); ok {
		return snap, nil
	}
	snap, err := c.next.ActiveRates(ctx, transportID, at)
	if err != nil {
		return RateSnapshot{}, err
	}
	c.store(ctx, transportID, snap)
	return snap, nil
}

// Invalidate drops the cached snapshot for a transport.
func (c *CachedSource) Invalidate(ctx context.Context, transportID types.ID) error {
	return c.rdb.Del(ctx, rateKey(transportID)).Err()
}

func (c *CachedSource) lookup(ctx context.Context, transportID types.ID, at time.Time) (RateSnapshot, bool) {
	raw, err := c.rdb.Get(ctx, rateKey(transportID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RateSnapshot{}, false
	}
	if err != nil {
		c.log.Warn("rate cache get failed", zap.String("transport_id", string(transportID)), zap.Error(err))
		return RateSnapshot{}, false
	}
	var snap RateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.log.Warn("rate cache entry corrupt", zap.String("transport_id", string(transportID)), zap.Error(err))
		return RateSnapshot{}, false
	}
	if !snap.ValidAt(at) {
		return RateSnapshot{}, false
	}
	if age := at.Sub(snap.TakenAt); age < 0 || age > c.ttl {
		return RateSnapshot{}, false
	}
	return snap, true
}

func (c *CachedSource) store(ctx context.Context, transportID types.ID, snap RateSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, rateKey(transportID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("rate cache set failed", zap.String("transport_id", string(transportID)), zap.Error(err))
	}
}
