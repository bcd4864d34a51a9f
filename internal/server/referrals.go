package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/affiliatepay/internal/commission/domain"
	referraldomain "github.com/smallbiznis/affiliatepay/internal/referral/domain"
)

type recordCommissionRequest struct {
	AffiliateID   string  `json:"affiliate_id"`
	OrderID       string  `json:"order_id"`
	Amount        int64   `json:"amount"`
	CustomerEmail string  `json:"customer_email"`
	FlagReason    *string `json:"flag_reason"`
}

func (s *Server) RecordCommission(c *gin.Context) {
	var req recordCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var flagReason *referraldomain.FlagReason
	if req.FlagReason != nil {
		reason := referraldomain.FlagReason(strings.TrimSpace(*req.FlagReason))
		flagReason = &reason
	}

	resp, err := s.commissionSvc.RecordCommission(c.Request.Context(), commissiondomain.RecordCommissionRequest{
		AffiliateID:   strings.TrimSpace(req.AffiliateID),
		OrderID:       strings.TrimSpace(req.OrderID),
		Amount:        req.Amount,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		FlagReason:    flagReason,
		ActorID:       actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListReferrals(c *gin.Context) {
	var query struct {
		AffiliateID string `form:"affiliate_id"`
		Status      string `form:"status"`
		Limit       int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commissionSvc.List(c.Request.Context(), commissiondomain.ListRequest{
		AffiliateID: strings.TrimSpace(query.AffiliateID),
		Status:      strings.TrimSpace(query.Status),
		Limit:       parseLimit(query.Limit),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReferral(c *gin.Context) {
	resp, err := s.commissionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApproveReferral(c *gin.Context) {
	resp, err := s.commissionSvc.Approve(c.Request.Context(), commissiondomain.ApproveRequest{
		ReferralID: c.Param("id"),
		ActorID:    actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type voidReferralRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) VoidReferral(c *gin.Context) {
	var req voidReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commissionSvc.Void(c.Request.Context(), commissiondomain.VoidRequest{
		ReferralID: c.Param("id"),
		Notes:      strings.TrimSpace(req.Notes),
		ActorID:    actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type flagReferralRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) FlagReferral(c *gin.Context) {
	var req flagReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commissionSvc.Flag(c.Request.Context(), commissiondomain.FlagRequest{
		ReferralID: c.Param("id"),
		Reason:     referraldomain.FlagReason(strings.TrimSpace(req.Reason)),
		ActorID:    actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reviewReferralRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

func (s *Server) ReviewReferral(c *gin.Context) {
	var req reviewReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commissionSvc.Review(c.Request.Context(), commissiondomain.ReviewRequest{
		ReferralID: c.Param("id"),
		Decision:   commissiondomain.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		Notes:      strings.TrimSpace(req.Notes),
		ActorID:    actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type autoApproveRequest struct {
	HoldPeriodDays *int `json:"hold_period_days"`
}

// AutoApproveReferrals runs the hold-period sweep on demand. An empty body
// uses the configured hold period.
func (s *Server) AutoApproveReferrals(c *gin.Context) {
	var req autoApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var holdPeriod *time.Duration
	if req.HoldPeriodDays != nil {
		if *req.HoldPeriodDays < 0 {
			AbortWithError(c, commissiondomain.ErrInvalidHoldPeriod)
			return
		}
		period := time.Duration(*req.HoldPeriodDays) * 24 * time.Hour
		holdPeriod = &period
	}

	resp, err := s.commissionSvc.AutoApprove(c.Request.Context(), commissiondomain.AutoApproveRequest{
		HoldPeriod: holdPeriod,
		ActorID:    actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
