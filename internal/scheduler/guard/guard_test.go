package guard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/affiliatepay/internal/jobrun"
	obsmetrics "github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestSkipReason(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
		skip   bool
	}{
		{"nil", nil, "", false},
		{"in progress", jobrun.ErrRunInProgress, obsmetrics.SchedulerSkipReasonRunInProgress, true},
		{"wrapped completed", fmt.Errorf("acquire: %w", jobrun.ErrAlreadyCompleted), obsmetrics.SchedulerSkipReasonAlreadyCompleted, true},
		{"lock held", ratelimit.ErrLockHeld, obsmetrics.SchedulerSkipReasonLockHeld, true},
		{"lease lost is an error", jobrun.ErrLeaseLost, "", false},
		{"other", errors.New("boom"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, skip := SkipReason(tc.err)
			assert.Equal(t, tc.reason, reason)
			assert.Equal(t, tc.skip, skip)
		})
	}
}

func TestDailyKey(t *testing.T) {
	assert.Equal(t, "commission_auto_approve:2025-01-13", DailyKey("commission_auto_approve", "2025-01-13"))
}
