package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`SELECT * FROM "affiliate_referrals" WHERE id = ?`, "SELECT", "affiliate_referrals"},
		{`INSERT INTO affiliate_payouts (id) VALUES (?)`, "INSERT", "affiliate_payouts"},
		{`UPDATE affiliates SET paid_balance = ?`, "UPDATE", "affiliates"},
		{`DELETE FROM job_runs`, "DELETE", "job_runs"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(DefaultGormLoggerConfig()).WithBase(zap.New(core))

	fc := func() (string, int64) { return "UPDATE affiliates SET paid_balance = 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Equal(t, 0, logs.Len(), "fast successful queries are not logged at warn level")

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Equal(t, 1, logs.FilterMessage("gorm.query").FilterField(zap.String("table", "affiliates")).Len())

	l.Trace(context.Background(), time.Now(), fc, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len(), "record not found is ignored by default")

	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Equal(t, 2, logs.Len(), "slow queries are logged")
}
