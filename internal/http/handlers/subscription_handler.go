// Subscription endpoints.
//
//   - POST /subscriptions          (register, sends a confirmation email)
//   - GET  /subscriptions/confirm  (confirm via the emailed token)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// SubscribeRequest is the urlencoded subscription form.
type SubscribeRequest struct {
	Name  string `form:"name" example:"Ursula Le Guin"`
	Email string `form:"email" example:"ursula@example.com"`
}

// SubscriptionStatusResponse reports the subscriber's state after a call.
type SubscriptionStatusResponse struct {
	Status string `json:"status" example:"pending_confirmation"`
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Subscribe to the newsletter
// @Description Stores a pending subscriber and emails a confirmation link.
// @Tags        Subscriptions
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       name   formData  string  true  "Subscriber name"
// @Param       email  formData  string  true  "Subscriber email"
// @Success     200  {object}  handlers.SubscriptionStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid name or email"
// @Failure     409  {object}  handlers.ErrorResponse  "Already subscribed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Subscription failed"
// @Router      /subscriptions [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body")
		return
	}

	_, err := h.subs.Subscribe(c.Request.Context(), req.Name, req.Email)
	switch {
	case err == nil:
		ok(c, http.StatusOK, SubscriptionStatusResponse{Status: domain.SubscriptionPending})
	case failValidation(c, err):
	case errors.Is(err, services.ErrAlreadySubscribed):
		fail(c, http.StatusConflict, ErrCodeConflict, "email already subscribed")
	case errors.Is(err, services.ErrConfirmationEmail):
		failInternal(c, ErrCodeSubscribeFailed, "failed to send the confirmation email", err)
	default:
		failInternal(c, ErrCodeSubscribeFailed, "failed to store the subscription", err)
	}
}

// ConfirmSubscription godoc
// @ID          confirmSubscription
// @Summary     Confirm a subscription
// @Description Marks the subscriber owning the token as confirmed. Confirming twice is harmless.
// @Tags        Subscriptions
// @Produce     json
// @Param       subscription_token  query  string  true  "Token from the confirmation email"
// @Success     200  {object}  handlers.SubscriptionStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing token"
// @Failure     401  {object}  handlers.ErrorResponse  "Unknown token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscriptions/confirm [get]
func (h *Handlers) ConfirmSubscription(c *gin.Context) {
	err := h.subs.Confirm(c.Request.Context(), c.Query("subscription_token"))
	switch {
	case err == nil:
		ok(c, http.StatusOK, SubscriptionStatusResponse{Status: domain.SubscriptionConfirmed})
	case failValidation(c, err):
	case errors.Is(err, services.ErrUnknownToken):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown subscription token")
	default:
		failInternal(c, ErrCodeInternal, "internal server error", err)
	}
}
