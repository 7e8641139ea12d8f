// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository, idempotency, service and worker layers.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxIdempotencyKeyLen caps the accepted idempotency key length.
const MaxIdempotencyKeyLen = 50

// Rules reported by ValidationError when an idempotency key is rejected.
const (
	RuleEmpty            = "empty"
	RuleTooLong          = "too_long"
	RuleIllegalCharacter = "illegal_character"
)

// ValidationError describes a malformed client input. Rule is one of the
// Rule* constants so callers can branch without parsing the message.
type ValidationError struct {
	Field string
	Rule  string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%s): %s", e.Field, e.Rule, e.Msg)
}

// IsValidationError reports whether err (or anything it wraps) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IdempotencyKey is a client-supplied token identifying one logical command.
// The zero value is not a valid key; obtain one through ParseIdempotencyKey.
type IdempotencyKey string

// ParseIdempotencyKey validates raw and returns it as an IdempotencyKey.
// Keys must be non-empty, at most MaxIdempotencyKeyLen bytes and made only of
// ASCII letters, digits, '_' and '-'.
func ParseIdempotencyKey(raw string) (IdempotencyKey, error) {
	if raw == "" {
		return "", &ValidationError{Field: "idempotency_key", Rule: RuleEmpty, Msg: "the idempotency key cannot be empty"}
	}
	if len(raw) > MaxIdempotencyKeyLen {
		return "", &ValidationError{
			Field: "idempotency_key",
			Rule:  RuleTooLong,
			Msg:   fmt.Sprintf("the idempotency key must be at most %d characters long", MaxIdempotencyKeyLen),
		}
	}
	for i := 0; i < len(raw); i++ {
		if !isKeyByte(raw[i]) {
			return "", &ValidationError{
				Field: "idempotency_key",
				Rule:  RuleIllegalCharacter,
				Msg:   fmt.Sprintf("the idempotency key contains an illegal character at position %d", i),
			}
		}
	}
	return IdempotencyKey(raw), nil
}

func isKeyByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	}
	return false
}

// String returns the key as a plain string.
func (k IdempotencyKey) String() string { return string(k) }

// HeaderPair is a single response header. Order and duplicates are preserved.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeaderPairs is stored as a JSON array in a nullable text column.
type HeaderPairs []HeaderPair

// Value implements driver.Valuer. A nil slice is stored as NULL.
func (h HeaderPairs) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal([]HeaderPair(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *HeaderPairs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), h)
	case []byte:
		return json.Unmarshal(v, h)
	default:
		return fmt.Errorf("headers: unsupported scan type %T", src)
	}
}

// SavedResponse is an HTTP response captured for replay.
type SavedResponse struct {
	StatusCode int
	Headers    HeaderPairs
	Body       []byte
}

// Idempotency is one claimed idempotency key. The row is inserted with all
// Response* columns NULL to claim the key and filled with the computed
// response inside the same transaction; once filled it never changes.
type Idempotency struct {
	UserID             string      `gorm:"type:varchar(64);primaryKey;not null"`
	Key                string      `gorm:"column:idempotency_key;type:varchar(50);primaryKey;not null"`
	ResponseStatusCode *int        `gorm:"column:response_status_code"`
	ResponseHeaders    HeaderPairs `gorm:"column:response_headers;type:text"`
	ResponseBody       []byte      `gorm:"column:response_body"`
	CreatedAt          time.Time   `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// SavedResponse returns the cached response, or false while the row is still
// a placeholder.
func (i *Idempotency) SavedResponse() (SavedResponse, bool) {
	if i == nil || i.ResponseStatusCode == nil {
		return SavedResponse{}, false
	}
	body := i.ResponseBody
	if body == nil {
		body = []byte{}
	}
	return SavedResponse{
		StatusCode: *i.ResponseStatusCode,
		Headers:    i.ResponseHeaders,
		Body:       body,
	}, true
}
