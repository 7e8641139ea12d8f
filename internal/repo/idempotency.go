// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model: claiming a key with a placeholder row, reading a claimed key back and
// filling the placeholder with the computed response.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, idempotency_key) pair.
var ErrDuplicate = errors.New("duplicate")

// ErrNotClaimed is returned by SaveIdempotentResponse when no placeholder row
// matched, i.e. the caller does not own the claim it tries to fill.
var ErrNotClaimed = errors.New("idempotency key not claimed")

// InsertIdempotencyPlaceholder claims (userID, key) by inserting a row whose
// response columns are NULL. It returns ErrDuplicate when the key is already
// claimed. On PostgreSQL a failed insert aborts the surrounding transaction,
// so callers must roll back on any error.
func InsertIdempotencyPlaceholder(ctx context.Context, tx *gorm.DB, userID, key string) error {
	rec := &domain.Idempotency{
		UserID:    userID,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetIdempotency returns the record for (userID, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotentResponse fills the placeholder for (userID, key) with resp.
// Only a row that is still a placeholder is updated, so a saved response can
// never be overwritten.
func SaveIdempotentResponse(ctx context.Context, tx *gorm.DB, userID, key string, resp domain.SavedResponse) error {
	headers := resp.Headers
	if headers == nil {
		headers = domain.HeaderPairs{}
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	res := tx.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("user_id = ? AND idempotency_key = ? AND response_status_code IS NULL", userID, key).
		Updates(map[string]any{
			"response_status_code": resp.StatusCode,
			"response_headers":     headers,
			"response_body":        body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// isUniqueViolation recognises unique-constraint failures across drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "constraint failed: primary key") ||
		strings.Contains(low, "duplicate key value violates unique constraint") ||
		strings.Contains(low, "sqlstate 23505")
}
