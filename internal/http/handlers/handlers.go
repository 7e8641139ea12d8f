// Package handlers holds the HTTP endpoints for newsletter publishing and
// subscriptions. Handlers are transport-thin: they read the form, call the
// services and translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// NewsletterPublisher publishes an issue under an idempotency key.
// Implementations must honor ctx and be safe for concurrent use.
type NewsletterPublisher interface {
	Publish(ctx context.Context, userID, rawKey string, in services.PublishInput, render services.ResponseRenderer) (domain.SavedResponse, error)
}

// SubscriptionManager handles the double opt-in flow.
type SubscriptionManager interface {
	Subscribe(ctx context.Context, name, email string) (*domain.Subscription, error)
	Confirm(ctx context.Context, token string) error
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	news NewsletterPublisher
	subs SubscriptionManager

	// adminPath is where the publish form lives; used as the 303 target.
	adminPath string
}

// New binds handlers to services. basePath is the prefix the routes are
// mounted under ("/" for none).
func New(news NewsletterPublisher, subs SubscriptionManager, basePath string) *Handlers {
	return &Handlers{
		news:      news,
		subs:      subs,
		adminPath: strings.TrimRight(basePath, "/") + "/admin/newsletters",
	}
}

func asValidationError(err error) (*domain.ValidationError, bool) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
