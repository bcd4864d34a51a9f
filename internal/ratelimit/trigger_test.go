package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestPayoutTriggerLimiterLocalFallback(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{PayoutTriggerRate: 0.001, PayoutTriggerBurst: 2}}
	limiter := NewPayoutTriggerLimiter(cfg, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "finance-1")
	assert.NoError(t, err)
	_, err = limiter.Allow(ctx, "finance-1")
	assert.NoError(t, err)

	wait, err := limiter.Allow(ctx, "finance-1")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Positive(t, wait)

	_, err = limiter.Allow(ctx, "finance-2")
	assert.NoError(t, err, "budgets are per actor")
}

func TestPayoutTriggerLimiterDisabled(t *testing.T) {
	limiter := NewPayoutTriggerLimiter(config.Config{}, nil, zaptest.NewLogger(t))
	assert.Nil(t, limiter)

	_, err := limiter.Allow(context.Background(), "anyone")
	assert.NoError(t, err)
}

func TestBucketHelpers(t *testing.T) {
	assert.Error(t, validateBucket("", 1, 1))
	assert.Error(t, validateBucket("k", 0, 1))
	assert.Error(t, validateBucket("k", 1, 0))
	assert.NoError(t, validateBucket("k", 1, 1))

	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, "2s", retryAfter(false, 0.5, 0.25).String())
	assert.Equal(t, "4s", bucketTTL(1, 2).String())
}

func TestNilLockerIsNotConfigured(t *testing.T) {
	var l *Locker
	_, err := l.TryLock(context.Background(), "k", 1)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
	assert.ErrorIs(t, l.Extend(context.Background(), "k", "t", time.Second), ErrLockNotConfigured)
}
