package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/affiliatepay/internal/audit/domain"
	"github.com/smallbiznis/affiliatepay/internal/authorization"
	obscontext "github.com/smallbiznis/affiliatepay/internal/observability/context"
	"github.com/smallbiznis/affiliatepay/internal/observability/logger"
	"go.uber.org/zap"
)

// Authentication happens upstream; the gateway forwards the caller as headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired resolves the caller from the actor headers and attaches it to
// the request context for audit attribution.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		actor := authorization.Actor{
			ID:   actorID,
			Role: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))),
		}
		c.Set(contextActorKey, actor)

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeUser), actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// PayoutTriggerRateLimit throttles manual batch runs per actor.
func (s *Server) PayoutTriggerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := actorFromContext(c)
		wait, err := s.payoutLimiter.Allow(c.Request.Context(), actor.ID)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("payout trigger rate limit exceeded",
				zap.String("actor_id", actor.ID),
				zap.Duration("retry_after", wait),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait.Seconds())))
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(seconds float64) int {
	if seconds < 1 {
		return 1
	}
	return int(math.Ceil(seconds))
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	if c == nil {
		return authorization.Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	if !ok || actor.ID == "" {
		return authorization.Actor{}, false
	}
	return actor, true
}

func actorID(c *gin.Context) string {
	actor, _ := actorFromContext(c)
	return actor.ID
}
