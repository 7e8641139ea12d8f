// Package services – NewsletterService
//
// This file implements the idempotent publish command. A publish claims the
// caller's idempotency key, writes the issue and its delivery tasks into the
// claim's transaction, renders the HTTP response and records it with the
// claim before committing. Replays return the recorded response without
// touching the outbox.
//
// Observability: Publish is OpenTelemetry-instrumented and counted in
// newsletter_publish_total by result.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
)

// PublishInput is the operator-supplied content of an issue.
type PublishInput struct {
	Title       string
	TextContent string
	HTMLContent string
}

// ResponseRenderer builds the HTTP response for a freshly published issue.
// The result is stored with the idempotency key and replayed verbatim.
type ResponseRenderer func(issue *domain.NewsletterIssue) (domain.SavedResponse, error)

// NewsletterService publishes newsletter issues exactly once per
// (operator, idempotency key).
type NewsletterService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store claims idempotency keys and records responses.
	Store *idempotency.Store

	// TitleMaxLen caps titles by rune length.
	TitleMaxLen int
}

// NewNewsletterService constructs a NewsletterService with default limits.
func NewNewsletterService(db *gorm.DB, store *idempotency.Store) *NewsletterService {
	return &NewsletterService{
		DB:          db,
		Store:       store,
		TitleMaxLen: 256,
	}
}

// Publish runs the publish command for userID under rawKey.
//
// Errors: *domain.ValidationError for bad input or key, idempotency.ErrConflict
// while a duplicate is still in flight, *idempotency.PersistenceError when the
// database fails (the transaction is rolled back).
func (s *NewsletterService) Publish(ctx context.Context, userID, rawKey string, in PublishInput, render ResponseRenderer) (domain.SavedResponse, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	resp, result, err := s.publish(ctx, userID, rawKey, in, render)
	publishTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("publish.result", result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.SavedResponse{}, err
	}
	return resp, nil
}

func (s *NewsletterService) publish(ctx context.Context, userID, rawKey string, in PublishInput, render ResponseRenderer) (domain.SavedResponse, string, error) {
	if render == nil {
		return domain.SavedResponse{}, publishError, ErrNoRenderer
	}
	in, err := s.normalize(in)
	if err != nil {
		return domain.SavedResponse{}, publishInvalid, err
	}

	next, err := s.Store.Begin(ctx, userID, rawKey)
	if err != nil {
		switch {
		case domain.IsValidationError(err):
			return domain.SavedResponse{}, publishInvalid, err
		case errors.Is(err, idempotency.ErrConflict):
			return domain.SavedResponse{}, publishConflict, err
		default:
			return domain.SavedResponse{}, publishError, err
		}
	}

	switch a := next.(type) {
	case idempotency.ReturnSaved:
		log.Debug().Str("user_id", userID).Msg("publish replayed from idempotency store")
		return a.Response, publishReplayed, nil

	case idempotency.StartProcessing:
		issue, tasks, err := WriteIssue(ctx, a.Tx, in)
		if err != nil {
			_ = a.Tx.Rollback().Error
			return domain.SavedResponse{}, publishError, &idempotency.PersistenceError{Op: "write outbox", Err: err}
		}
		resp, err := render(issue)
		if err != nil {
			_ = a.Tx.Rollback().Error
			return domain.SavedResponse{}, publishError, err
		}
		resp, err = s.Store.Save(ctx, a.Tx, userID, a.Key, resp)
		if err != nil {
			return domain.SavedResponse{}, publishError, err
		}
		log.Info().
			Str("newsletter_issue_id", issue.ID).
			Int64("delivery_tasks", tasks).
			Msg("newsletter issue published")
		return resp, publishCreated, nil
	}
	return domain.SavedResponse{}, publishError, errors.New("publish: unknown next action")
}

// normalize trims and NFC-normalizes the input and checks required fields.
func (s *NewsletterService) normalize(in PublishInput) (PublishInput, error) {
	in.Title = normalizeTitle(norm.NFC.String(in.Title))
	in.TextContent = norm.NFC.String(strings.TrimSpace(in.TextContent))
	in.HTMLContent = norm.NFC.String(strings.TrimSpace(in.HTMLContent))

	switch {
	case in.Title == "":
		return in, &domain.ValidationError{Field: "title", Rule: domain.RuleEmpty, Msg: "the title cannot be empty"}
	case s.TitleMaxLen > 0 && utf8.RuneCountInString(in.Title) > s.TitleMaxLen:
		return in, &domain.ValidationError{Field: "title", Rule: domain.RuleTooLong, Msg: "the title is too long"}
	case in.TextContent == "":
		return in, &domain.ValidationError{Field: "text_content", Rule: domain.RuleEmpty, Msg: "the text content cannot be empty"}
	case in.HTMLContent == "":
		return in, &domain.ValidationError{Field: "html_content", Rule: domain.RuleEmpty, Msg: "the html content cannot be empty"}
	}
	return in, nil
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeTitle trims whitespace and collapses runs of it to one space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}
