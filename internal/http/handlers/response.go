// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail so clients always see the same envelope:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "email already subscribed"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"bad_request"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"the title cannot be empty"`
}

// fail aborts with the error envelope. 5xx responses are logged with the
// request-scoped logger; the message sent to the client stays generic.
func fail(c *gin.Context, status int, code, msg string) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if len(c.Errors) > 0 {
			ev = ev.Str("cause", c.Errors.Last().Error())
		}
		ev.Msg(msg)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failInternal records err on the context so the access log and fail can
// report it, then answers with a generic 500.
func failInternal(c *gin.Context, code, msg string, err error) {
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, code, msg)
}

// failValidation answers 400 when err is a *domain.ValidationError and
// reports whether it did.
func failValidation(c *gin.Context, err error) bool {
	ve, isVE := asValidationError(err)
	if !isVE {
		return false
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Msg)
	return true
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// writeSaved writes a captured response byte for byte, headers in order.
func writeSaved(c *gin.Context, resp domain.SavedResponse) {
	h := c.Writer.Header()
	for _, p := range resp.Headers {
		h.Add(p.Name, p.Value)
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}
