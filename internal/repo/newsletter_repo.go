// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the outbox writes for a published
// newsletter issue: the issue row itself and the set-based fan-out into the
// delivery queue.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// InsertNewsletterIssue stores a new issue with a random UUID and a UTC
// publication timestamp.
func InsertNewsletterIssue(ctx context.Context, tx *gorm.DB, title, textContent, htmlContent string) (*domain.NewsletterIssue, error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		TextContent: textContent,
		HTMLContent: htmlContent,
		PublishedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

// EnqueueDeliveryTasks inserts one queue row per confirmed subscriber with a
// single INSERT ... SELECT, so the recipient set is read under one snapshot.
// It returns the number of tasks created.
func EnqueueDeliveryTasks(ctx context.Context, tx *gorm.DB, issueID string) (int64, error) {
	res := tx.WithContext(ctx).Exec(`
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email, attempts, created_at)
		SELECT ?, email, 0, ?
		FROM subscriptions
		WHERE status = ?`,
		issueID, time.Now().UTC(), domain.SubscriptionConfirmed,
	)
	return res.RowsAffected, res.Error
}

// GetNewsletterIssue fetches an issue by id, or ErrNotFound.
func GetNewsletterIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	if err := db.WithContext(ctx).Where("newsletter_issue_id = ?", id).Take(&issue).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}
