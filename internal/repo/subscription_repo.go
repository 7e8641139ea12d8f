// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for subscriptions
// and their confirmation tokens.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return ErrNotFound.
//   - A second subscription for the same email returns ErrDuplicate.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSubscription inserts a subscriber in status pending_confirmation.
func CreateSubscription(ctx context.Context, db *gorm.DB, email, name string) (*domain.Subscription, error) {
	s := &domain.Subscription{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Status:       domain.SubscriptionPending,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// GetSubscriptionByEmail fetches a subscriber by address, or ErrNotFound.
func GetSubscriptionByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Where("email = ?", email).Take(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// StoreSubscriptionToken records a confirmation token for subscriberID.
func StoreSubscriptionToken(ctx context.Context, db *gorm.DB, subscriberID, token string) error {
	return db.WithContext(ctx).Create(&domain.SubscriptionToken{
		Token:        token,
		SubscriberID: subscriberID,
	}).Error
}

// SubscriberIDFromToken resolves a confirmation token, or ErrNotFound.
func SubscriberIDFromToken(ctx context.Context, db *gorm.DB, token string) (string, error) {
	var t domain.SubscriptionToken
	err := db.WithContext(ctx).Where("subscription_token = ?", token).Take(&t).Error
	if err != nil {
		return "", err
	}
	return t.SubscriberID, nil
}

// ConfirmSubscription moves subscriberID to status confirmed. Confirming an
// already confirmed subscriber is a no-op; a missing subscriber is ErrNotFound.
func ConfirmSubscription(ctx context.Context, db *gorm.DB, subscriberID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", subscriberID).
		Update("status", domain.SubscriptionConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountConfirmedSubscriptions returns the number of confirmed subscribers.
func CountConfirmedSubscriptions(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status = ?", domain.SubscriptionConfirmed).
		Count(&n).Error
	return n, err
}

// IsNotFound reports whether err means "no such row".
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
