// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// IdempotencyValidator checks the idempotency key of unsafe requests at the
// edge. The key is taken from the "idempotency_key" form field (HTML forms)
// or the Idempotency-Key header. Malformed keys are rejected with 400 before
// any handler runs. When a lookup function is supplied and the key already
// has a saved response, the request is flagged as a replay so the rate
// limiter lets it through; the replay itself is served by the publish path.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

const (
	// HeaderIdempotencyKey is the header alternative to the form field.
	HeaderIdempotencyKey = "Idempotency-Key"
	// FormIdempotencyKey is the form field rendered by the publish form.
	FormIdempotencyKey = "idempotency_key"

	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// IdempotencyLookup reports whether (userID, key) already has a saved
// response.
type IdempotencyLookup func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// Required rejects unsafe requests that carry no key at all.
	Required bool
	// Lookup is optional. Without it no request is ever flagged as a replay.
	Lookup IdempotencyLookup
}

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (domain.IdempotencyKey, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	k, ok := v.(domain.IdempotencyKey)
	return k, ok && k != ""
}

// IsReplay reports whether the key of this request already has a saved response.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// RawIdempotencyKey returns the key exactly as the client sent it, preferring
// the form field over the header.
func RawIdempotencyKey(c *gin.Context) string {
	if v, ok := c.GetPostForm(FormIdempotencyKey); ok {
		return v
	}
	return c.GetHeader(HeaderIdempotencyKey)
}

// IdempotencyValidator validates keys on POST, PUT, PATCH and DELETE.
func IdempotencyValidator(opts IdempotencyOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		raw := RawIdempotencyKey(c)
		if raw == "" && !opts.Required {
			c.Next()
			return
		}

		key, err := domain.ParseIdempotencyKey(raw)
		if err != nil {
			msg := "invalid idempotency key"
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				msg = ve.Msg
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_request",
				"message":    msg,
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if opts.Lookup != nil {
			saved, err := opts.Lookup(c.Request.Context(), UserID(c), key)
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case saved:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
