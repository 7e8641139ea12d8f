// Newsletter publishing endpoints.
//
//   - GET  /admin/newsletters  (issue a fresh idempotency key for the form)
//   - POST /admin/newsletters  (publish an issue, idempotent per operator+key)
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// PublishAcceptedMessage is returned once an issue has been written to the outbox.
const PublishAcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly!"

// conflictRetryAfter is the Retry-After hint (seconds) for in-flight duplicates.
const conflictRetryAfter = 1

// PublishFormResponse carries the key the client must submit with the form.
type PublishFormResponse struct {
	IdempotencyKey string `json:"idempotency_key" example:"9b2f3c1e-7d4a-4f0e-8a51-2c6a3b1d9e77"`
}

// PublishNewsletterRequest is the urlencoded publish form.
type PublishNewsletterRequest struct {
	Title          string `form:"title" binding:"required" example:"October issue"`
	TextContent    string `form:"text_content" binding:"required"`
	HTMLContent    string `form:"html_content" binding:"required"`
	IdempotencyKey string `form:"idempotency_key" example:"9b2f3c1e-7d4a-4f0e-8a51-2c6a3b1d9e77"`
}

// PublishNewsletterResponse is the body of the 303 returned (and replayed)
// for an accepted issue.
type PublishNewsletterResponse struct {
	IssueID string `json:"issue_id" example:"2f1d0a4e-3c1b-4f5a-9e8d-7c6b5a4f3e2d"`
	Message string `json:"message" example:"The newsletter issue has been accepted - emails will go out shortly!"`
}

// PublishForm godoc
// @ID          publishForm
// @Summary     Get a publish form key
// @Description Returns a fresh idempotency key to submit with the publish form.
// @Tags        Newsletters
// @Produce     json
// @Param       X-User-ID  header  string  true  "Operator ID"
// @Success     200  {object}  handlers.PublishFormResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/newsletters [get]
func (h *Handlers) PublishForm(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, PublishFormResponse{IdempotencyKey: uuid.NewString()})
}

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Stores the issue and queues one delivery per confirmed subscriber.
// @Description Submitting the same idempotency key again replays the original response.
// @Tags        Newsletters
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       X-User-ID        header    string  true   "Operator ID"
// @Param       Idempotency-Key  header    string  false  "Alternative to the form field"
// @Param       title            formData  string  true   "Issue title"
// @Param       text_content     formData  string  true   "Plain-text body"
// @Param       html_content     formData  string  true   "HTML body"
// @Param       idempotency_key  formData  string  false  "Key from GET /admin/newsletters"
// @Success     303  {object}  handlers.PublishNewsletterResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid form or key"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     409  {object}  handlers.ErrorResponse  "Same key still in flight"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Publish failed"
// @Router      /admin/newsletters [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var req PublishNewsletterRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title, text_content and html_content are required")
		return
	}
	rawKey := req.IdempotencyKey
	if rawKey == "" {
		rawKey = middleware.RawIdempotencyKey(c)
	}

	in := services.PublishInput{
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
	}
	resp, err := h.news.Publish(c.Request.Context(), middleware.UserID(c), rawKey, in, h.renderPublished)
	if err != nil {
		h.failPublish(c, err)
		return
	}
	writeSaved(c, resp)
}

// renderPublished builds the response that is stored with the idempotency
// key; replays return exactly these bytes.
func (h *Handlers) renderPublished(issue *domain.NewsletterIssue) (domain.SavedResponse, error) {
	body, err := json.Marshal(PublishNewsletterResponse{
		IssueID: issue.ID,
		Message: PublishAcceptedMessage,
	})
	if err != nil {
		return domain.SavedResponse{}, err
	}
	return domain.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: domain.HeaderPairs{
			{Name: "Location", Value: h.adminPath},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: body,
	}, nil
}

func (h *Handlers) failPublish(c *gin.Context, err error) {
	if failValidation(c, err) {
		return
	}
	switch {
	case errors.Is(err, idempotency.ErrConflict):
		c.Header("Retry-After", strconv.Itoa(conflictRetryAfter))
		fail(c, http.StatusConflict, ErrCodeConflict, "a request with this idempotency key is still being processed")
	case idempotency.IsPersistenceError(err):
		failInternal(c, ErrCodePublishFailed, "failed to publish the newsletter issue", err)
	default:
		failInternal(c, ErrCodeInternal, "internal server error", err)
	}
}
