package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Period is a payout week: [Start, End) in UTC, Sunday 00:00 to Sunday 00:00.
type Period struct {
	BatchID string
	Start   time.Time
	End     time.Time
}

// BatchPeriod returns the Sunday-start UTC week containing now. The id uses
// the ISO-8601 year and week of that week's Monday, so each Sunday-start week
// maps to exactly one id, including across year boundaries.
func BatchPeriod(now time.Time) Period {
	t := now.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	year, week := start.AddDate(0, 0, 1).ISOWeek()
	return Period{
		BatchID: fmt.Sprintf("BATCH-%d-W%02d", year, week),
		Start:   start,
		End:     start.AddDate(0, 0, 7),
	}
}

func IdempotencyKey(batchID string, affiliateID snowflake.ID) string {
	return fmt.Sprintf("payout-%s-%s", batchID, affiliateID.String())
}

func ManualBatchID(payoutID snowflake.ID) string {
	return fmt.Sprintf("MANUAL-%s", payoutID.String())
}

// RunKey is the job_runs key guarding one batch.
func RunKey(batchID string) string {
	return "affiliate_payout:" + batchID
}
