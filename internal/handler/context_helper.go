package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-api/pkg/response"
)

// currentUser returns the caller's claims or writes a 401 and returns false.
func currentUser(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent"), RequestID: requestid.Value(c)}
}

// bindJSON decodes the body or writes a validation error and returns false.
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}

func isAdmin(claims *models.JWTClaims) bool {
	return claims != nil && claims.Role == models.RoleAdministrator
}

// canManage reports whether the caller may act on other users' enrollments.
func canManage(claims *models.JWTClaims) bool {
	return claims != nil && (claims.Role == models.RoleAdministrator || claims.Role == models.RoleManager)
}
