package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/affiliatepay/internal/payout/domain"
)

func (s *Server) PreviewPayouts(c *gin.Context) {
	summary, err := s.payoutSvc.PreviewBatch(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("batch_id", summary.BatchID)
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// RunPayouts is the manual re-trigger of the current week's batch. Affiliates
// already paid in the batch come back as already_paid.
func (s *Server) RunPayouts(c *gin.Context) {
	summary, err := s.payoutSvc.RunPayoutBatch(c.Request.Context(), payoutdomain.RunBatchRequest{
		ActorID:    actorID(c),
		AllowRerun: true,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("batch_id", summary.BatchID)
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type manualPayoutRequest struct {
	AffiliateID   string `json:"affiliate_id"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference"`
	Amount        *int64 `json:"amount"`
	Notes         string `json:"notes"`
}

func (s *Server) RecordManualPayout(c *gin.Context) {
	var req manualPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payoutSvc.RecordManualPayout(c.Request.Context(), payoutdomain.ManualPayoutRequest{
		AffiliateID:   strings.TrimSpace(req.AffiliateID),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Reference:     strings.TrimSpace(req.Reference),
		Amount:        req.Amount,
		Notes:         strings.TrimSpace(req.Notes),
		ActorID:       actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// FailPayout abandons a pending transfer payout the gateway never settled.
func (s *Server) FailPayout(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payoutSvc.FailPayout(c.Request.Context(), payoutdomain.FailPayoutRequest{
		PayoutID: strings.TrimSpace(c.Param("id")),
		Notes:    strings.TrimSpace(req.Notes),
		ActorID:  actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayouts(c *gin.Context) {
	var query struct {
		AffiliateID string `form:"affiliate_id"`
		BatchID     string `form:"batch_id"`
		Status      string `form:"status"`
		Limit       int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payoutSvc.ListPayouts(c.Request.Context(), payoutdomain.ListPayoutsRequest{
		AffiliateID: strings.TrimSpace(query.AffiliateID),
		BatchID:     strings.TrimSpace(query.BatchID),
		Status:      strings.TrimSpace(query.Status),
		Limit:       parseLimit(query.Limit),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayout(c *gin.Context) {
	resp, err := s.payoutSvc.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayoutStatement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	doc, err := s.payoutSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="payout-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", doc)
}
