package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// UUIDParams answers 404 when one of the named route parameters is present but is not a UUID.
// Every stored id is a UUID, so such a path names no resource.
func UUIDParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			value, ok := c.Params.Get(name)
			if !ok {
				continue
			}
			if _, err := uuid.Parse(value); err != nil {
				response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "resource not found"))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
