package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleSupport = "support"
	RoleSystem  = "system"
)

const (
	ObjectAffiliate = "affiliate"
	ObjectReferral  = "referral"
	ObjectPayout    = "payout"
	ObjectSettings  = "settings"
	ObjectAuditLog  = "audit_log"
	ObjectAlert     = "alert"
)

const (
	ActionAffiliateView   = "affiliate.view"
	ActionAffiliateCreate = "affiliate.create"
	ActionAffiliateUpdate = "affiliate.update"
	ActionAffiliateDelete = "affiliate.delete"

	ActionReferralView        = "referral.view"
	ActionReferralCreate      = "referral.create"
	ActionReferralFlag        = "referral.flag"
	ActionReferralApprove     = "referral.approve"
	ActionReferralVoid        = "referral.void"
	ActionReferralReview      = "referral.review"
	ActionReferralAutoApprove = "referral.auto_approve"

	ActionPayoutView    = "payout.view"
	ActionPayoutPreview = "payout.preview"
	ActionPayoutRun     = "payout.run"
	ActionPayoutManual  = "payout.manual"
	ActionPayoutFail    = "payout.fail"

	ActionSettingsView   = "settings.view"
	ActionSettingsUpdate = "settings.update"

	ActionAuditLogView = "audit_log.view"
	ActionAlertView    = "alert.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from casbin_rule and seeds the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	actorID := strings.TrimSpace(actor.ID)
	if actorID == "" {
		return ErrInvalidActor
	}
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if !isKnownRole(role) {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := subjectFor(role, actorID)
	if err := s.ensureGrouping(subject, "role:"+role); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorID, role, object, action)
	}
	return nil
}

func subjectFor(role, actorID string) string {
	if role == RoleSystem {
		return "system:" + actorID
	}
	return "user:" + actorID
}

func isKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleFinance, RoleSupport, RoleSystem:
		return true
	default:
		return false
	}
}

// ensureGrouping keeps exactly one role link per subject; the role arrives with
// each request, so a changed role replaces the previous link.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID, role, object, action string) {
	s.log.Warn("authorization denied",
		zap.String("actor_id", actorID),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	s.audit(ctx, auditdomain.ActionAuthorizationDenied, actorID, role, object, action)
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorID, role, object, action string) {
	s.audit(ctx, auditdomain.ActionAuthorizationGranted, actorID, role, object, action)
}

func (s *ServiceImpl) audit(ctx context.Context, auditAction, actorID, role, object, action string) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeUser)
	if role == RoleSystem {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	targetID := fmt.Sprintf("%s:%s", object, action)
	_ = s.auditSvc.AuditLog(ctx, actorType, &actorID, auditAction, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionPayoutRun, ActionPayoutManual, ActionPayoutFail, ActionAffiliateDelete, ActionSettingsUpdate:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	views := [][]string{
		{ObjectAffiliate, ActionAffiliateView},
		{ObjectReferral, ActionReferralView},
		{ObjectPayout, ActionPayoutView},
		{ObjectSettings, ActionSettingsView},
		{ObjectAuditLog, ActionAuditLogView},
		{ObjectAlert, ActionAlertView},
	}

	policies := [][]string{
		// Admins hold every capability.
		{"role:admin", ObjectAffiliate, "*"},
		{"role:admin", ObjectReferral, "*"},
		{"role:admin", ObjectPayout, "*"},
		{"role:admin", ObjectSettings, "*"},
		{"role:admin", ObjectAuditLog, "*"},
		{"role:admin", ObjectAlert, "*"},

		// Finance moves money and settles commissions.
		{"role:finance", ObjectReferral, ActionReferralApprove},
		{"role:finance", ObjectReferral, ActionReferralVoid},
		{"role:finance", ObjectReferral, ActionReferralReview},
		{"role:finance", ObjectReferral, ActionReferralAutoApprove},
		{"role:finance", ObjectPayout, ActionPayoutPreview},
		{"role:finance", ObjectPayout, ActionPayoutRun},
		{"role:finance", ObjectPayout, ActionPayoutManual},
		{"role:finance", ObjectPayout, ActionPayoutFail},
		{"role:finance", ObjectAffiliate, ActionAffiliateUpdate},

		// Support onboards affiliates and records or flags commissions.
		{"role:support", ObjectAffiliate, ActionAffiliateCreate},
		{"role:support", ObjectAffiliate, ActionAffiliateUpdate},
		{"role:support", ObjectReferral, ActionReferralCreate},
		{"role:support", ObjectReferral, ActionReferralFlag},

		// Scheduled jobs.
		{"role:system", ObjectPayout, ActionPayoutRun},
		{"role:system", ObjectReferral, ActionReferralAutoApprove},
	}
	for _, role := range []string{"role:finance", "role:support"} {
		for _, view := range views {
			policies = append(policies, []string{role, view[0], view[1]})
		}
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
