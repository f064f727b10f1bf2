package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
)

// Key layout. Everything is scoped per user so counters cannot bleed across
// accounts:
//
//	fraud:event:<event_id>      idempotency marker (SETNX, retention TTL)
//	fraud:vel:<user>:<type>     event timeline, member=event id, score=unixnano
//	fraud:dev:<user>            device hashes, score=last seen unixnano
//	fraud:ip:<user>             ip addresses, score=last seen unixnano
//	fraud:amt:<user>:<type>     amounts, member="<event id>|<amount>", score=unixnano
const (
	eventKeyPrefix  = "fraud:event:"
	velKeyPrefix    = "fraud:vel:"
	deviceKeyPrefix = "fraud:dev:"
	ipKeyPrefix     = "fraud:ip:"
	amountKeyPrefix = "fraud:amt:"
)

// RedisVelocityCounter keeps rolling-window activity aggregates in Redis
// sorted sets scored by event time. Reads count members at or after the
// window floor; writes opportunistically prune members past retention.
type RedisVelocityCounter struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisVelocityCounter wires the counter. Retention bounds how long raw
// event members stay queryable and must cover the longest rule window.
func NewRedisVelocityCounter(client *redis.Client, retention time.Duration, logger *zap.Logger) *RedisVelocityCounter {
	return &RedisVelocityCounter{
		client:    client,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordEvent ingests one event. The SETNX marker makes ingestion idempotent
// per event id: a replayed event returns false and writes nothing.
func (c *RedisVelocityCounter) RecordEvent(ctx context.Context, ev *activity.Event) (bool, error) {
	markerKey := eventKeyPrefix + ev.ID.String()
	created, err := c.client.SetNX(ctx, markerKey, 1, c.retention).Result()
	if err != nil {
		return false, fmt.Errorf("event dedup check failed: %w", err)
	}
	if !created {
		return false, nil
	}

	score := float64(ev.OccurredAt.UnixNano())
	pipe := c.client.Pipeline()

	velKey := velKeyPrefix + ev.UserID.String() + ":" + ev.Type
	pipe.ZAdd(ctx, velKey, redis.Z{Score: score, Member: ev.ID.String()})
	pipe.Expire(ctx, velKey, c.retention)

	if ev.Context.DeviceHash != "" {
		devKey := deviceKeyPrefix + ev.UserID.String()
		pipe.ZAdd(ctx, devKey, redis.Z{Score: score, Member: ev.Context.DeviceHash})
		pipe.Expire(ctx, devKey, c.retention)
	}
	if ev.Context.IPAddress != "" {
		ipKey := ipKeyPrefix + ev.UserID.String()
		pipe.ZAdd(ctx, ipKey, redis.Z{Score: score, Member: ev.Context.IPAddress})
		pipe.Expire(ctx, ipKey, c.retention)
	}
	if ev.Context.Amount != nil {
		amtKey := amountKeyPrefix + ev.UserID.String() + ":" + ev.Type
		member := ev.ID.String() + "|" + ev.Context.Amount.String()
		pipe.ZAdd(ctx, amtKey, redis.Z{Score: score, Member: member})
		pipe.Expire(ctx, amtKey, c.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Roll back the marker so a retry of this event id can ingest the
		// data; leaving it behind would make the retry read as a duplicate
		// and drop the event from every counter.
		if delErr := c.client.Del(ctx, markerKey).Err(); delErr != nil {
			c.logger.Error("event marker rollback failed",
				zap.String("event_id", ev.ID.String()), zap.Error(delErr))
		}
		return false, fmt.Errorf("velocity ingestion failed: %w", err)
	}
	return true, nil
}

// CountEvents counts events of a type inside the window ending now.
func (c *RedisVelocityCounter) CountEvents(ctx context.Context, userID uuid.UUID, eventType string, window time.Duration) (float64, error) {
	key := velKeyPrefix + userID.String() + ":" + eventType
	n, err := c.countInWindow(ctx, key, window)
	if err != nil {
		return 0, fmt.Errorf("counting %s events: %w", eventType, err)
	}
	return n, nil
}

// DistinctDevices counts device hashes last seen inside the window. A hash
// seen again later carries the newer timestamp, so only devices genuinely
// absent for the whole window fall out.
func (c *RedisVelocityCounter) DistinctDevices(ctx context.Context, userID uuid.UUID, window time.Duration) (float64, error) {
	n, err := c.countInWindow(ctx, deviceKeyPrefix+userID.String(), window)
	if err != nil {
		return 0, fmt.Errorf("counting distinct devices: %w", err)
	}
	return n, nil
}

// DistinctIPs counts IP addresses last seen inside the window.
func (c *RedisVelocityCounter) DistinctIPs(ctx context.Context, userID uuid.UUID, window time.Duration) (float64, error) {
	n, err := c.countInWindow(ctx, ipKeyPrefix+userID.String(), window)
	if err != nil {
		return 0, fmt.Errorf("counting distinct ips: %w", err)
	}
	return n, nil
}

// AmountSum totals event amounts inside the window using exact decimal
// arithmetic. Members are "<event id>|<amount>"; unparseable members are
// skipped with a log line rather than poisoning the whole sum.
func (c *RedisVelocityCounter) AmountSum(ctx context.Context, userID uuid.UUID, eventType string, window time.Duration) (decimal.Decimal, error) {
	key := amountKeyPrefix + userID.String() + ":" + eventType
	members, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: c.windowFloor(window),
		Max: "+inf",
	}).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing %s amounts: %w", eventType, err)
	}

	sum := decimal.Zero
	for _, m := range members {
		_, raw, ok := strings.Cut(m, "|")
		if !ok {
			c.logger.Warn("malformed amount member", zap.String("key", key), zap.String("member", m))
			continue
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			c.logger.Warn("unparseable amount member", zap.String("key", key), zap.String("member", m))
			continue
		}
		sum = sum.Add(amt)
	}
	return sum, nil
}

func (c *RedisVelocityCounter) countInWindow(ctx context.Context, key string, window time.Duration) (float64, error) {
	c.prune(ctx, key)
	n, err := c.client.ZCount(ctx, key, c.windowFloor(window), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

// windowFloor returns the ZCOUNT min bound. A zero window means all time.
func (c *RedisVelocityCounter) windowFloor(window time.Duration) string {
	if window <= 0 {
		return "-inf"
	}
	return strconv.FormatInt(c.now().Add(-window).UnixNano(), 10)
}

// prune drops members older than retention so sets stay bounded even for
// users with TTLs repeatedly refreshed by new activity.
func (c *RedisVelocityCounter) prune(ctx context.Context, key string) {
	cutoff := strconv.FormatInt(c.now().Add(-c.retention).UnixNano(), 10)
	if err := c.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		c.logger.Warn("velocity prune failed", zap.String("key", key), zap.Error(err))
	}
}
