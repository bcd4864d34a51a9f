// Package guard decides when a scheduled job should stand down instead of
// reporting an error.
package guard

import (
	"errors"

	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	obsmetrics "github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
)

// SkipReason returns the skip metric reason when err means another run owns
// or already finished the work.
func SkipReason(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, jobrun.ErrRunInProgress):
		return obsmetrics.SchedulerSkipReasonRunInProgress, true
	case errors.Is(err, jobrun.ErrAlreadyCompleted):
		return obsmetrics.SchedulerSkipReasonAlreadyCompleted, true
	case errors.Is(err, ratelimit.ErrLockHeld):
		return obsmetrics.SchedulerSkipReasonLockHeld, true
	default:
		return "", false
	}
}

// DailyKey is the run key for a job that runs at most once per UTC day.
func DailyKey(job string, day string) string {
	return job + ":" + day
}
