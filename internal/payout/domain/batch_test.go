package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchPeriod(t *testing.T) {
	cases := []struct {
		name      string
		now       time.Time
		wantID    string
		wantStart time.Time
	}{
		{
			name:      "midweek",
			now:       time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
			wantID:    "BATCH-2025-W03",
			wantStart: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "sunday midnight opens the week",
			now:       time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
			wantID:    "BATCH-2025-W03",
			wantStart: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "saturday closes the previous week",
			now:       time.Date(2025, 1, 11, 23, 59, 59, 0, time.UTC),
			wantID:    "BATCH-2025-W02",
			wantStart: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "year boundary uses the monday's iso year",
			now:       time.Date(2024, 12, 31, 8, 0, 0, 0, time.UTC),
			wantID:    "BATCH-2025-W01",
			wantStart: time.Date(2024, 12, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "week 53",
			now:       time.Date(2021, 1, 2, 8, 0, 0, 0, time.UTC),
			wantID:    "BATCH-2020-W53",
			wantStart: time.Date(2020, 12, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "non utc input",
			now:       time.Date(2025, 1, 12, 1, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			wantID:    "BATCH-2025-W03",
			wantStart: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BatchPeriod(tc.now)
			assert.Equal(t, tc.wantID, got.BatchID)
			assert.True(t, got.Start.Equal(tc.wantStart), got.Start)
			assert.True(t, got.End.Equal(tc.wantStart.AddDate(0, 0, 7)))
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "payout-BATCH-2025-W03-42", IdempotencyKey("BATCH-2025-W03", 42))
	assert.Equal(t, "MANUAL-7", ManualBatchID(7))
	assert.Equal(t, "affiliate_payout:BATCH-2025-W03", RunKey("BATCH-2025-W03"))
}
