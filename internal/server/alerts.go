package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/affiliatepay/internal/alert/domain"
)

func (s *Server) ListAlerts(c *gin.Context) {
	var query struct {
		Type    string `form:"type"`
		BatchID string `form:"batch_id"`
		Limit   int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.alertSvc.List(c.Request.Context(), alertdomain.ListRequest{
		Type:    alertdomain.Type(strings.TrimSpace(query.Type)),
		BatchID: strings.TrimSpace(query.BatchID),
		Limit:   parseLimit(query.Limit),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
