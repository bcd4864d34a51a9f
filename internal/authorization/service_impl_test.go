package authorization

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordedAudit struct {
	action string
	meta   map[string]any
}

type fakeAudit struct {
	entries []recordedAudit
}

func (f *fakeAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	f.entries = append(f.entries, recordedAudit{action: action, meta: metadata})
	return nil
}

func (f *fakeAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestAuthorizer(t *testing.T) (Service, *fakeAudit) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	audit := &fakeAudit{}
	svc := NewService(Params{
		Log:      zaptest.NewLogger(t),
		Enforcer: enforcer,
		AuditSvc: audit,
	})
	return svc, audit
}

func TestAuthorizeRoleMatrix(t *testing.T) {
	svc, _ := newTestAuthorizer(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   Actor
		object  string
		action  string
		wantErr error
	}{
		{"admin runs payouts", Actor{ID: "1", Role: RoleAdmin}, ObjectPayout, ActionPayoutRun, nil},
		{"admin deletes affiliate", Actor{ID: "1", Role: RoleAdmin}, ObjectAffiliate, ActionAffiliateDelete, nil},
		{"finance runs payouts", Actor{ID: "2", Role: RoleFinance}, ObjectPayout, ActionPayoutRun, nil},
		{"finance fails stuck payouts", Actor{ID: "2", Role: RoleFinance}, ObjectPayout, ActionPayoutFail, nil},
		{"support cannot fail payouts", Actor{ID: "3", Role: RoleSupport}, ObjectPayout, ActionPayoutFail, ErrForbidden},
		{"finance cannot delete affiliates", Actor{ID: "2", Role: RoleFinance}, ObjectAffiliate, ActionAffiliateDelete, ErrForbidden},
		{"support records referrals", Actor{ID: "3", Role: RoleSupport}, ObjectReferral, ActionReferralCreate, nil},
		{"support cannot approve", Actor{ID: "3", Role: RoleSupport}, ObjectReferral, ActionReferralApprove, ErrForbidden},
		{"support views payouts", Actor{ID: "3", Role: RoleSupport}, ObjectPayout, ActionPayoutView, nil},
		{"system auto approves", System, ObjectReferral, ActionReferralAutoApprove, nil},
		{"system cannot edit settings", System, ObjectSettings, ActionSettingsUpdate, ErrForbidden},
		{"unknown role", Actor{ID: "4", Role: "intern"}, ObjectPayout, ActionPayoutView, ErrInvalidRole},
		{"missing actor", Actor{Role: RoleAdmin}, ObjectPayout, ActionPayoutView, ErrInvalidActor},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAuthorizeRoleChangeReplacesGrouping(t *testing.T) {
	svc, _ := newTestAuthorizer(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, Actor{ID: "7", Role: RoleAdmin}, ObjectAffiliate, ActionAffiliateDelete))
	err := svc.Authorize(ctx, Actor{ID: "7", Role: RoleSupport}, ObjectAffiliate, ActionAffiliateDelete)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeAuditsDenialsAndSensitiveGrants(t *testing.T) {
	svc, audit := newTestAuthorizer(t)
	ctx := context.Background()

	_ = svc.Authorize(ctx, Actor{ID: "3", Role: RoleSupport}, ObjectPayout, ActionPayoutRun)
	require.NoError(t, svc.Authorize(ctx, Actor{ID: "2", Role: RoleFinance}, ObjectPayout, ActionPayoutRun))
	require.NoError(t, svc.Authorize(ctx, Actor{ID: "2", Role: RoleFinance}, ObjectPayout, ActionPayoutView))

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "authorization.denied", audit.entries[0].action)
	assert.Equal(t, "authorization.granted", audit.entries[1].action)
}
