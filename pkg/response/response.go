package response

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

var exposeDetail atomic.Bool

func init() {
	exposeDetail.Store(true)
}

// SetExposeErrorDetail toggles inclusion of wrapped error text on 5xx responses.
func SetExposeErrorDetail(expose bool) {
	exposeDetail.Store(expose)
}

// Envelope represents the common response contract.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *ErrorBody             `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// ErrorBody is the serialised form of an application error.
type ErrorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Status  int          `json:"status"`
	Fields  []FieldError `json:"fields,omitempty"`
	Detail  string       `json:"detail,omitempty"`
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	body := toBody(err)
	c.JSON(body.Status, Envelope{Error: body})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Recovery reports panics with the standard error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		Error(c, appErrors.ErrInternal)
		c.Abort()
	})
}

func toBody(err error) *ErrorBody {
	appErr := appErrors.FromError(err)
	body := &ErrorBody{Code: appErr.Code, Message: appErr.Message, Status: appErr.Status}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		body.Fields = make([]FieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			body.Fields = append(body.Fields, FieldError{Field: lowerFirst(fe.Field()), Rule: fe.Tag()})
		}
	}

	if appErr.Status >= http.StatusInternalServerError && appErr.Err != nil && exposeDetail.Load() {
		body.Detail = appErr.Err.Error()
	}
	return body
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
