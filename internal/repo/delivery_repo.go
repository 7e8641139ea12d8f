// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the delivery queue operations used by
// the delivery worker: claiming one task with a row lock, settling it, and
// small aggregate queries for queue-depth reporting.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// skipLocked is FOR UPDATE SKIP LOCKED. PostgreSQL honours it; the SQLite
// dialect drops row-level locking clauses and relies on its single writer.
var skipLocked = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}

// ClaimDeliveryTask selects and locks one pending task inside tx, skipping
// rows already locked by other workers. Tasks with fewer attempts come first
// so a failing recipient does not starve fresh ones. Returns ErrNotFound when
// nothing is claimable.
func ClaimDeliveryTask(ctx context.Context, tx *gorm.DB) (*domain.DeliveryTask, error) {
	if tx.Dialector.Name() == DriverSQLite {
		// Take the database write lock now so concurrent workers serialise
		// on the claim instead of reading the same row.
		if err := tx.WithContext(ctx).Exec("UPDATE issue_delivery_queue SET attempts = attempts WHERE 1 = 0").Error; err != nil {
			return nil, err
		}
	}

	var task domain.DeliveryTask
	err := tx.WithContext(ctx).
		Clauses(skipLocked).
		Order("attempts ASC").
		Limit(1).
		Take(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteDeliveryTask removes a settled task.
func DeleteDeliveryTask(ctx context.Context, tx *gorm.DB, issueID, email string) error {
	return tx.WithContext(ctx).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Delete(&domain.DeliveryTask{}).Error
}

// IncrementDeliveryAttempts records one more failed send for the task and
// returns the new attempt count.
func IncrementDeliveryAttempts(ctx context.Context, tx *gorm.DB, issueID, email string) (int, error) {
	res := tx.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Update("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var task domain.DeliveryTask
	if err := tx.WithContext(ctx).
		Select("attempts").
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Take(&task).Error; err != nil {
		return 0, err
	}
	return task.Attempts, nil
}

// QueueStats returns the number of pending tasks and the creation time of the
// oldest one (nil when the queue is empty).
func QueueStats(ctx context.Context, db *gorm.DB) (count int64, oldest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.DeliveryTask{})
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MIN() -> TEXT in SQLite.
	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.DeliveryTask{}).
		Select("created_at").Order("created_at ASC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// CountDeliveryTasks returns the number of queued tasks for one issue.
func CountDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ?", issueID).
		Count(&n).Error
	return n, err
}
