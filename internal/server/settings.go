package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	settingsdomain "github.com/smallbiznis/affiliatepay/internal/settings/domain"
)

func (s *Server) GetAffiliateSettings(c *gin.Context) {
	resp, err := s.settingsSvc.GetAffiliateSettings(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateAffiliateSettingsRequest struct {
	MinimumPayout     *int64  `json:"minimum_payout"`
	HoldPeriodDays    *int    `json:"hold_period_days"`
	SupportedCountry  *string `json:"supported_country"`
	SupportedCurrency *string `json:"supported_currency"`
}

func (s *Server) UpdateAffiliateSettings(c *gin.Context) {
	var req updateAffiliateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.settingsSvc.UpdateAffiliateSettings(c.Request.Context(), settingsdomain.UpdateRequest{
		MinimumPayout:     req.MinimumPayout,
		HoldPeriodDays:    req.HoldPeriodDays,
		SupportedCountry:  req.SupportedCountry,
		SupportedCurrency: req.SupportedCurrency,
		ActorID:           actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
