package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
)

func setupVelocityCounter(t *testing.T) (*RedisVelocityCounter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	counter := NewRedisVelocityCounter(client, 30*24*time.Hour, zaptest.NewLogger(t))
	return counter, mr
}

func loginEvent(userID uuid.UUID, at time.Time, deviceHash, ip string) *activity.Event {
	return &activity.Event{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       activity.TypeLoginFailed,
		OccurredAt: at,
		Context:    activity.Context{DeviceHash: deviceHash, IPAddress: ip},
	}
}

func TestRedisVelocityCounter_CountEvents(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	// Three failures inside the hour, one well outside it.
	for _, age := range []time.Duration{5 * time.Minute, 20 * time.Minute, 50 * time.Minute, 3 * time.Hour} {
		created, err := counter.RecordEvent(ctx, loginEvent(userID, now.Add(-age), "dev-1", "10.0.0.1"))
		require.NoError(t, err)
		assert.True(t, created)
	}

	n, err := counter.CountEvents(ctx, userID, activity.TypeLoginFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n)

	// Zero window means all time.
	n, err = counter.CountEvents(ctx, userID, activity.TypeLoginFailed, 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, n)

	// Other users and other types are invisible.
	n, err = counter.CountEvents(ctx, uuid.New(), activity.TypeLoginFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.0, n)
	n, err = counter.CountEvents(ctx, userID, activity.TypeLoginSucceeded, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.0, n)
}

func TestRedisVelocityCounter_IdempotentIngestion(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	ev := loginEvent(userID, now, "dev-1", "10.0.0.1")

	created, err := counter.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)

	// Same event id replayed: rejected, nothing double-counted.
	created, err = counter.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := counter.CountEvents(ctx, userID, activity.TypeLoginFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)
}

// pipelineOutage fails pipelined commands while active, leaving single
// commands (SETNX, DEL) untouched.
type pipelineOutage struct {
	active bool
}

func (h *pipelineOutage) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *pipelineOutage) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *pipelineOutage) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.active {
			return errors.New("connection reset by peer")
		}
		return next(ctx, cmds)
	}
}

func TestRedisVelocityCounter_RetryAfterIngestionFailure(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	outage := &pipelineOutage{active: true}
	counter.client.AddHook(outage)

	ev := loginEvent(userID, now, "dev-1", "10.0.0.1")

	// Ingestion fails after the dedup marker is set. The marker must be
	// rolled back, not left pointing at data that was never written.
	created, err := counter.RecordEvent(ctx, ev)
	require.Error(t, err)
	assert.False(t, created)

	// Redis recovers; the caller retries the same event id.
	outage.active = false
	created, err = counter.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created, "retry of a failed ingestion must not read as a duplicate")

	n, err := counter.CountEvents(ctx, userID, activity.TypeLoginFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)

	// Idempotency still holds for the event that made it in.
	created, err = counter.RecordEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRedisVelocityCounter_DistinctDevicesAndIPs(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	// dev-1 used twice, dev-2 once, dev-3 only outside the day window.
	_, err := counter.RecordEvent(ctx, loginEvent(userID, now.Add(-2*time.Hour), "dev-1", "10.0.0.1"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, loginEvent(userID, now.Add(-1*time.Hour), "dev-1", "10.0.0.2"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, loginEvent(userID, now.Add(-30*time.Minute), "dev-2", "10.0.0.1"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, loginEvent(userID, now.Add(-48*time.Hour), "dev-3", "10.0.0.3"))
	require.NoError(t, err)

	devices, err := counter.DistinctDevices(ctx, userID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2.0, devices)

	ips, err := counter.DistinctIPs(ctx, userID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2.0, ips)
}

func TestRedisVelocityCounter_AmountSum(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	pay := func(at time.Time, amount string) *activity.Event {
		amt := decimal.RequireFromString(amount)
		return &activity.Event{
			ID:         uuid.New(),
			UserID:     userID,
			Type:       activity.TypePaymentSubmitted,
			OccurredAt: at,
			Context:    activity.Context{Amount: &amt},
		}
	}

	_, err := counter.RecordEvent(ctx, pay(now.Add(-1*time.Hour), "1200.50"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, pay(now.Add(-6*time.Hour), "99.99"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, pay(now.Add(-72*time.Hour), "5000"))
	require.NoError(t, err)

	sum, err := counter.AmountSum(ctx, userID, activity.TypePaymentSubmitted, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("1300.49")), "got %s", sum)

	// No amounts recorded for a different type.
	sum, err = counter.AmountSum(ctx, userID, activity.TypeShiftCancelled, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestRedisVelocityCounter_PrunesBeyondRetention(t *testing.T) {
	counter, _ := setupVelocityCounter(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	counter.now = func() time.Time { return now }

	_, err := counter.RecordEvent(ctx, loginEvent(userID, now.Add(-40*24*time.Hour), "dev-old", "10.0.0.9"))
	require.NoError(t, err)
	_, err = counter.RecordEvent(ctx, loginEvent(userID, now.Add(-time.Minute), "dev-new", "10.0.0.1"))
	require.NoError(t, err)

	// The 40-day-old member is past the 30-day retention and must not count
	// even in an all-time query.
	n, err := counter.CountEvents(ctx, userID, activity.TypeLoginFailed, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)
}
