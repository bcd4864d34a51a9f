package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/smallbiznis/affiliatepay/internal/affiliate/domain"
)

type createAffiliateRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	UserID       *string `json:"user_id"`
	ReferralCode string  `json:"referral_code"`
	Activate     bool    `json:"activate"`
}

func (s *Server) CreateAffiliate(c *gin.Context) {
	var req createAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.affiliateSvc.Create(c.Request.Context(), affiliatedomain.CreateRequest{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		UserID:       req.UserID,
		ReferralCode: strings.TrimSpace(req.ReferralCode),
		Activate:     req.Activate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListAffiliates(c *gin.Context) {
	resp, err := s.affiliateSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAffiliate(c *gin.Context) {
	resp, err := s.affiliateSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActivateAffiliate(c *gin.Context) {
	resp, err := s.affiliateSvc.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuspendAffiliate(c *gin.Context) {
	resp, err := s.affiliateSvc.Suspend(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteAffiliate(c *gin.Context) {
	cascade, err := parseOptionalBool(c.Query("cascade"))
	if err != nil {
		AbortWithError(c, newValidationError("cascade", "invalid_cascade", "invalid cascade"))
		return
	}

	req := affiliatedomain.DeleteRequest{ID: c.Param("id")}
	if cascade != nil {
		req.Cascade = *cascade
	}
	if err := s.affiliateSvc.Delete(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type upsertPayoutAccountRequest struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	PayoutsEnabled    bool   `json:"payouts_enabled"`
	DetailsSubmitted  bool   `json:"details_submitted"`
	Country           string `json:"country"`
	Currency          string `json:"currency"`
}

func (s *Server) UpsertPayoutAccount(c *gin.Context) {
	var req upsertPayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.affiliateSvc.UpsertPayoutAccount(c.Request.Context(), affiliatedomain.UpsertPayoutAccountRequest{
		AffiliateID:       c.Param("id"),
		Provider:          strings.TrimSpace(req.Provider),
		ProviderAccountID: strings.TrimSpace(req.ProviderAccountID),
		PayoutsEnabled:    req.PayoutsEnabled,
		DetailsSubmitted:  req.DetailsSubmitted,
		Country:           strings.TrimSpace(req.Country),
		Currency:          strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayoutAccount(c *gin.Context) {
	resp, err := s.affiliateSvc.GetPayoutAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SyncPayoutAccount(c *gin.Context) {
	resp, err := s.affiliateSvc.SyncPayoutAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetAffiliateBalance returns the stored balance columns next to the values
// derived from referral rows.
func (s *Server) GetAffiliateBalance(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, affiliatedomain.ErrInvalidID)
		return
	}

	report, err := s.balances.Reconcile(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"balance": report.Stored,
			"derived": report.Derived,
			"in_sync": report.InSync(),
			"diffs":   report.Diffs,
		},
	})
}
