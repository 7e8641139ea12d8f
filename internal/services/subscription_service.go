// Package services – SubscriptionService
//
// This file implements the subscription lifecycle: a visitor subscribes with
// a name and an email address, receives a confirmation link, and becomes a
// confirmed subscriber once the link is followed. Only confirmed subscribers
// receive newsletter issues.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

const (
	maxNameRunes   = 256
	forbiddenChars = `/()"<>\{}`
	tokenLen       = 25
	tokenAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// EmailSender delivers one email. Implemented by email.Client.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient, subject, htmlContent, textContent string) error
}

// SubscriptionService registers and confirms subscribers.
type SubscriptionService struct {
	DB    *gorm.DB
	Email EmailSender

	// BaseURL is the public address used in confirmation links.
	BaseURL string

	validate *validator.Validate
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB, sender EmailSender, baseURL string) *SubscriptionService {
	return &SubscriptionService{
		DB:       db,
		Email:    sender,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		validate: validator.New(),
	}
}

// Subscribe stores a pending subscriber with a confirmation token in one
// transaction and then emails the confirmation link.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, email string) (*domain.Subscription, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe")
	defer span.End()

	name, err := ParseSubscriberName(name)
	if err != nil {
		return nil, err
	}
	email, err = s.parseEmail(email)
	if err != nil {
		return nil, err
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		return nil, err
	}

	var sub *domain.Subscription
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := repo.CreateSubscription(ctx, tx, email, name)
		if err != nil {
			return err
		}
		sub = created
		return repo.StoreSubscriptionToken(ctx, tx, created.ID, token)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrAlreadySubscribed
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("subscriber.id", sub.ID))

	if err := s.sendConfirmation(ctx, sub.Email, token); err != nil {
		log.Error().Err(err).Str("subscriber_id", sub.ID).Msg("failed to send confirmation email")
		return sub, fmt.Errorf("%w: %v", ErrConfirmationEmail, err)
	}
	return sub, nil
}

// Confirm marks the subscriber owning token as confirmed.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return &domain.ValidationError{Field: "subscription_token", Rule: domain.RuleEmpty, Msg: "the subscription token cannot be empty"}
	}
	id, err := repo.SubscriberIDFromToken(ctx, s.DB, token)
	if repo.IsNotFound(err) {
		return ErrUnknownToken
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("subscriber.id", id))
	if err := repo.ConfirmSubscription(ctx, s.DB, id); err != nil {
		return err
	}
	log.Info().Str("subscriber_id", id).Msg("subscription confirmed")
	return nil
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, email, token string) error {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "sendConfirmation",
		trace.WithAttributes(attribute.String("email.kind", "confirmation")),
	)
	defer span.End()

	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s", s.BaseURL, token)
	html := fmt.Sprintf("Welcome to our newsletter!<br>Click <a href=\"%s\">here</a> to confirm your subscription.", link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return s.Email.SendEmail(ctx, email, "Welcome!", html, text)
}

func (s *SubscriptionService) parseEmail(raw string) (string, error) {
	v := s.validate
	if v == nil {
		v = validator.New()
	}
	email := strings.TrimSpace(raw)
	if err := v.Var(email, "required,email"); err != nil {
		return "", &domain.ValidationError{Field: "email", Rule: "invalid_email", Msg: fmt.Sprintf("%q is not a valid email address", raw)}
	}
	return email, nil
}

// ParseSubscriberName trims and NFC-normalizes a display name and rejects
// empty names, names longer than 256 runes and names containing any of
// / ( ) " < > \ { }.
func ParseSubscriberName(raw string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return "", &domain.ValidationError{Field: "name", Rule: domain.RuleEmpty, Msg: "the name cannot be empty"}
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", &domain.ValidationError{Field: "name", Rule: domain.RuleTooLong, Msg: fmt.Sprintf("the name must be at most %d characters long", maxNameRunes)}
	}
	if i := strings.IndexAny(name, forbiddenChars); i >= 0 {
		return "", &domain.ValidationError{Field: "name", Rule: domain.RuleIllegalCharacter, Msg: fmt.Sprintf("the name contains a forbidden character %q", name[i])}
	}
	return name, nil
}

// generateSubscriptionToken returns a random 25-character alphanumeric token.
func generateSubscriptionToken() (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(tokenLen)
	for i := 0; i < tokenLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
