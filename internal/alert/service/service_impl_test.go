package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/smallbiznis/affiliatepay/internal/alert/domain"
	"github.com/smallbiznis/affiliatepay/internal/alert/repository"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/ledgertest"
	"github.com/smallbiznis/affiliatepay/internal/providers/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const alertsTable = `CREATE TABLE alerts (
	id INTEGER PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	batch_id TEXT,
	message TEXT NOT NULL,
	channels TEXT,
	metadata JSON,
	created_at DATETIME NOT NULL
)`

type slackRecorder struct {
	messages []slack.Message
	err      error
}

func (r *slackRecorder) Post(ctx context.Context, msg slack.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

type emailRecorder struct {
	subjects []string
	to       [][]string
}

func (r *emailRecorder) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	r.subjects = append(r.subjects, subject)
	r.to = append(r.to, to)
	return nil
}

func newTestService(t *testing.T, chat *slackRecorder, mail *emailRecorder) (domain.Service, *gorm.DB) {
	t.Helper()
	db := ledgertest.OpenDB(t)
	require.NoError(t, db.Exec(alertsTable).Error)

	p := Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: ledgertest.NewNode(t),
		Clock: ledgertest.NewFixtures(t, db).Clock,
		Cfg: config.Config{
			Slack: config.SlackConfig{Channel: "#payouts"},
			Email: config.EmailConfig{AlertRecipients: []string{"finance@example.com"}},
		},
		Repo: repository.Provide(),
	}
	if chat != nil {
		p.Slack = chat
	}
	if mail != nil {
		p.Email = mail
	}
	return NewService(p), db
}

func TestFormatPayoutBatchMessageCapsErrors(t *testing.T) {
	errs := make([]string, 0, 13)
	for i := 1; i <= 13; i++ {
		errs = append(errs, fmt.Sprintf("affiliate %d: transfer declined", i))
	}
	msg := FormatPayoutBatchMessage(domain.PayoutBatchAlert{
		BatchID:      "BATCH-2025-W03",
		TotalPayouts: 15,
		FailedCount:  13,
		TotalAmount:  5500,
		Errors:       errs,
		Severity:     domain.SeverityCritical,
	})

	assert.True(t, strings.HasPrefix(msg, "[CRITICAL] Payout batch BATCH-2025-W03: 13 of 15 payouts failed, 55.00 paid."))
	assert.Contains(t, msg, "affiliate 10: transfer declined")
	assert.NotContains(t, msg, "affiliate 11:")
	assert.True(t, strings.HasSuffix(msg, "… and 3 more"))
}

func TestAlertPayoutBatchErrorCriticalFansOut(t *testing.T) {
	chat := &slackRecorder{}
	mail := &emailRecorder{}
	svc, _ := newTestService(t, chat, mail)
	ctx := context.Background()

	err := svc.AlertPayoutBatchError(ctx, domain.PayoutBatchAlert{
		BatchID:      "BATCH-2025-W03",
		TotalPayouts: 2,
		FailedCount:  2,
		Errors:       []string{"a: boom", "b: boom"},
		Severity:     domain.SeverityCritical,
	})
	require.NoError(t, err)

	require.Len(t, chat.messages, 1)
	assert.Equal(t, "#payouts", chat.messages[0].Channel)
	assert.Equal(t, slack.SeverityCritical, chat.messages[0].Severity)
	assert.Equal(t, "Payout batch BATCH-2025-W03 failures", chat.messages[0].Title)
	require.Len(t, mail.subjects, 1)
	assert.Equal(t, []string{"finance@example.com"}, mail.to[0])

	alerts, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.TypePayoutBatchError, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	require.NotNil(t, alerts[0].BatchID)
	assert.Equal(t, "BATCH-2025-W03", *alerts[0].BatchID)
	assert.ElementsMatch(t, []string{domain.ChannelLog, domain.ChannelSlack, domain.ChannelEmail}, []string(alerts[0].Channels))
}

func TestAlertPayoutBatchErrorWarningSkipsEmail(t *testing.T) {
	chat := &slackRecorder{err: errors.New("webhook down")}
	mail := &emailRecorder{}
	svc, _ := newTestService(t, chat, mail)
	ctx := context.Background()

	require.NoError(t, svc.AlertPayoutBatchError(ctx, domain.PayoutBatchAlert{
		BatchID:      "BATCH-2025-W03",
		TotalPayouts: 4,
		FailedCount:  1,
		Severity:     domain.SeverityWarning,
	}))
	assert.Empty(t, mail.subjects)

	alerts, err := svc.List(ctx, domain.ListRequest{BatchID: "BATCH-2025-W03"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{domain.ChannelLog}, []string(alerts[0].Channels))
}

func TestAlertSkipsDisabledSlack(t *testing.T) {
	db := ledgertest.OpenDB(t)
	require.NoError(t, db.Exec(alertsTable).Error)
	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: ledgertest.NewNode(t),
		Clock: ledgertest.NewFixtures(t, db).Clock,
		Repo:  repository.Provide(),
		Slack: slack.Disabled{},
	})
	ctx := context.Background()

	require.NoError(t, svc.AlertLedgerDrift(ctx, domain.LedgerDriftAlert{AffiliateID: 42, Field: "paid_balance", Stored: 1, Decrement: 2}))

	alerts, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{domain.ChannelLog}, []string(alerts[0].Channels))
}

func TestAlertPayoutBatchErrorValidation(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	err := svc.AlertPayoutBatchError(ctx, domain.PayoutBatchAlert{Severity: domain.SeverityWarning})
	assert.ErrorIs(t, err, domain.ErrInvalidBatchID)

	err = svc.AlertPayoutBatchError(ctx, domain.PayoutBatchAlert{BatchID: "BATCH-2025-W03", Severity: "page"})
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)

	_, err = svc.List(ctx, domain.ListRequest{Type: "unknown"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}

func TestAlertLedgerDrift(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.AlertLedgerDrift(ctx, domain.LedgerDriftAlert{
		AffiliateID: 42,
		BatchID:     "BATCH-2025-W03",
		Field:       "pending_balance",
		Stored:      1000,
		Decrement:   5500,
	}))

	alerts, err := svc.List(ctx, domain.ListRequest{Type: domain.TypeLedgerDrift})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "pending_balance was 10.00, payout decrement 55.00")
	assert.Equal(t, "42", alerts[0].Metadata["affiliate_id"])
}
