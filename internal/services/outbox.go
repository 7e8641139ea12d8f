package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// WriteIssue is the outbox writer. Inside tx it stores the issue and fans it
// out to every subscriber confirmed at this moment. It performs no other
// durable side effect and returns the number of delivery tasks created.
func WriteIssue(ctx context.Context, tx *gorm.DB, in PublishInput) (*domain.NewsletterIssue, int64, error) {
	ctx, span := otel.Tracer("services/Outbox").Start(ctx, "WriteIssue")
	defer span.End()

	issue, err := repo.InsertNewsletterIssue(ctx, tx, in.Title, in.TextContent, in.HTMLContent)
	if err != nil {
		return nil, 0, err
	}
	n, err := repo.EnqueueDeliveryTasks(ctx, tx, issue.ID)
	if err != nil {
		return nil, 0, err
	}
	span.SetAttributes(
		attribute.String("newsletter_issue.id", issue.ID),
		attribute.Int64("delivery_tasks", n),
	)
	return issue, n, nil
}
