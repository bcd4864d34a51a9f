package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/affiliatepay/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate_limited")

const keyPayoutTrigger = "affiliatepay:payout:trigger:%s"

// PayoutTriggerLimiter throttles manual payout triggers per actor. It uses the
// shared Redis bucket when configured and an in-process limiter otherwise.
type PayoutTriggerLimiter struct {
	log    *zap.Logger
	bucket *TokenBucket
	rate   float64
	burst  int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewPayoutTriggerLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *PayoutTriggerLimiter {
	r := cfg.RateLimit.PayoutTriggerRate
	burst := cfg.RateLimit.PayoutTriggerBurst
	if r <= 0 || burst <= 0 {
		return nil
	}
	return &PayoutTriggerLimiter{
		log:    log.Named("ratelimit.payout_trigger"),
		bucket: bucket,
		rate:   r,
		burst:  burst,
		local:  map[string]*rate.Limiter{},
	}
}

// Allow returns ErrRateLimited with the suggested wait when the actor has
// exhausted its budget. A nil limiter allows everything.
func (l *PayoutTriggerLimiter) Allow(ctx context.Context, actorID string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, keyFor(actorID), l.rate, l.burst)
		if err == nil {
			if !res.Allowed {
				return res.RetryAfter, ErrRateLimited
			}
			return 0, nil
		}
		l.log.Warn("redis token bucket unavailable, using local limiter", zap.Error(err))
	}

	limiter := l.localLimiter(actorID)
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return 0, ErrRateLimited
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return delay, ErrRateLimited
	}
	return 0, nil
}

func (l *PayoutTriggerLimiter) localLimiter(actorID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.local[actorID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[actorID] = limiter
	}
	return limiter
}

func keyFor(actorID string) string {
	if actorID == "" {
		actorID = "anonymous"
	}
	return fmt.Sprintf(keyPayoutTrigger, actorID)
}
