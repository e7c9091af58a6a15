package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type dashboardService interface {
	Stats(ctx context.Context, refresh bool) (*models.DashboardStats, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats godoc
// @Summary Training activity summary
// @Tags Dashboard
// @Produce json
// @Param refresh query bool false "Recompute instead of serving the cached copy (administrators only)"
// @Success 200 {object} response.Envelope{data=models.DashboardStats}
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	refresh := c.Query("refresh") == "true"
	if refresh && !isAdmin(claims) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only administrators can refresh dashboard stats"))
		return
	}
	stats, cacheHit, err := h.service.Stats(c.Request.Context(), refresh)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}
