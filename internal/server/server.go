package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
	alertdomain "github.com/smallbiznis/affiliatepay/internal/alert/domain"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	"github.com/smallbiznis/affiliatepay/internal/balance"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	"github.com/smallbiznis/affiliatepay/internal/config"
	"github.com/smallbiznis/affiliatepay/internal/observability"
	obsmiddleware "github.com/smallbiznis/affiliatepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/affiliatepay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/affiliatepay/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
	"github.com/smallbiznis/affiliatepay/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the admin API. Domain modules are composed by the entrypoint.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	affiliateSvc  affiliatedomain.Service
	commissionSvc commissiondomain.Service
	payoutSvc     payoutdomain.Service
	settingsSvc   settingsdomain.Provider
	alertSvc      alertdomain.Service
	balances      balance.Aggregate
	payoutLimiter *ratelimit.PayoutTriggerLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	AffiliateSvc  affiliatedomain.Service
	CommissionSvc commissiondomain.Service
	PayoutSvc     payoutdomain.Service
	SettingsSvc   settingsdomain.Provider
	AlertSvc      alertdomain.Service
	Balances      balance.Aggregate
	PayoutLimiter *ratelimit.PayoutTriggerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		affiliateSvc:  p.AffiliateSvc,
		commissionSvc: p.CommissionSvc,
		payoutSvc:     p.PayoutSvc,
		settingsSvc:   p.SettingsSvc,
		alertSvc:      p.AlertSvc,
		balances:      p.Balances,
		payoutLimiter: p.PayoutLimiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.RegisterAdminRoutes()
	s.registerFallback()
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.ActorRequired())

	// -------- Affiliates --------
	admin.GET("/affiliates", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.ListAffiliates)
	admin.POST("/affiliates", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateCreate), s.CreateAffiliate)
	admin.GET("/affiliates/:id", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.GetAffiliate)
	admin.DELETE("/affiliates/:id", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateDelete), s.DeleteAffiliate)
	admin.POST("/affiliates/:id/activate", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateUpdate), s.ActivateAffiliate)
	admin.POST("/affiliates/:id/suspend", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateUpdate), s.SuspendAffiliate)
	admin.GET("/affiliates/:id/balance", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.GetAffiliateBalance)
	admin.GET("/affiliates/:id/payout-account", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.GetPayoutAccount)
	admin.PUT("/affiliates/:id/payout-account", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateUpdate), s.UpsertPayoutAccount)
	admin.POST("/affiliates/:id/payout-account/sync", s.authorize(authorization.ObjectAffiliate, authorization.ActionAffiliateUpdate), s.SyncPayoutAccount)

	// -------- Referrals --------
	admin.GET("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionReferralView), s.ListReferrals)
	admin.POST("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionReferralCreate), s.RecordCommission)
	admin.POST("/referrals/auto-approve", s.authorize(authorization.ObjectReferral, authorization.ActionReferralAutoApprove), s.AutoApproveReferrals)
	admin.GET("/referrals/:id", s.authorize(authorization.ObjectReferral, authorization.ActionReferralView), s.GetReferral)
	admin.POST("/referrals/:id/approve", s.authorize(authorization.ObjectReferral, authorization.ActionReferralApprove), s.ApproveReferral)
	admin.POST("/referrals/:id/void", s.authorize(authorization.ObjectReferral, authorization.ActionReferralVoid), s.VoidReferral)
	admin.POST("/referrals/:id/flag", s.authorize(authorization.ObjectReferral, authorization.ActionReferralFlag), s.FlagReferral)
	admin.POST("/referrals/:id/review", s.authorize(authorization.ObjectReferral, authorization.ActionReferralReview), s.ReviewReferral)

	// -------- Payouts --------
	admin.GET("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.ListPayouts)
	admin.POST("/payouts/preview", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutPreview), s.PreviewPayouts)
	admin.POST("/payouts/run", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutRun), s.PayoutTriggerRateLimit(), s.RunPayouts)
	admin.POST("/payouts/manual", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutManual), s.RecordManualPayout)
	admin.GET("/payouts/:id", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayout)
	admin.POST("/payouts/:id/fail", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutFail), s.FailPayout)
	admin.GET("/payouts/:id/statement.pdf", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayoutStatement)

	// -------- Settings --------
	admin.GET("/settings/affiliate", s.authorize(authorization.ObjectSettings, authorization.ActionSettingsView), s.GetAffiliateSettings)
	admin.PUT("/settings/affiliate", s.authorize(authorization.ObjectSettings, authorization.ActionSettingsUpdate), s.UpdateAffiliateSettings)

	// -------- Operations --------
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	admin.GET("/alerts", s.authorize(authorization.ObjectAlert, authorization.ActionAlertView), s.ListAlerts)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
