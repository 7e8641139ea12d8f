// Package idempotency implements the durable idempotency store used by the
// publish command. A caller first claims (userID, key) with Begin; the first
// claimer receives an open transaction to do its work in and must finish with
// Save, which records the response and commits. Every later request with the
// same pair gets the recorded response back verbatim.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

const (
	defaultConflictRetries = 5
	defaultConflictBackoff = 50 * time.Millisecond
	defaultConflictMaxWait = 2 * time.Second
)

// NextAction is the outcome of Begin: StartProcessing or ReturnSaved.
type NextAction interface {
	nextAction()
}

// StartProcessing means the caller owns the key. Tx is an open transaction
// holding the placeholder row; all business writes belong in it and it must
// be completed with Store.Save or rolled back.
type StartProcessing struct {
	Tx  *gorm.DB
	Key domain.IdempotencyKey
}

// ReturnSaved carries the response recorded by an earlier request.
type ReturnSaved struct {
	Response domain.SavedResponse
}

func (StartProcessing) nextAction() {}
func (ReturnSaved) nextAction() {}

// Store is the idempotency store.
type Store struct {
	db *gorm.DB

	conflictRetries uint
	conflictBackoff time.Duration
	conflictMaxWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithConflictRetries sets how many times Begin re-reads an unfilled
// placeholder before giving up with ErrConflict.
func WithConflictRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.conflictRetries = uint(n)
		}
	}
}

// WithConflictBackoff sets the initial wait between conflict re-reads.
func WithConflictBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.conflictBackoff = d
		}
	}
}

// WithConflictMaxWait caps the total time Begin spends waiting on an
// in-flight request.
func WithConflictMaxWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.conflictMaxWait = d
		}
	}
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		conflictRetries: defaultConflictRetries,
		conflictBackoff: defaultConflictBackoff,
		conflictMaxWait: defaultConflictMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin validates rawKey and claims (userID, key).
//
// On success it returns StartProcessing with an open transaction. If the key
// was already used and its response is recorded it returns ReturnSaved. If
// the owner of the key is still working, Begin waits with exponential backoff
// and returns ErrConflict once the budget is spent. Invalid keys are reported
// as *domain.ValidationError before the database is touched.
func (s *Store) Begin(ctx context.Context, userID, rawKey string) (NextAction, error) {
	key, err := domain.ParseIdempotencyKey(rawKey)
	if err != nil {
		return nil, err
	}

	tr := otel.Tracer("idempotency/Store")
	ctx, span := tr.Start(ctx, "Begin",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	next, claimed, err := s.tryClaim(ctx, userID, key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if claimed {
		span.SetAttributes(attribute.String("idempotency.action", "start"))
		return next, nil
	}

	next, err = s.awaitSaved(ctx, userID, key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("idempotency.action", actionName(next)))
	return next, nil
}

// Save records resp for (userID, key) in tx and commits tx, which also
// commits every business write made in it. resp is returned unchanged.
func (s *Store) Save(ctx context.Context, tx *gorm.DB, userID string, key domain.IdempotencyKey, resp domain.SavedResponse) (domain.SavedResponse, error) {
	tr := otel.Tracer("idempotency/Store")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("http.status_code", resp.StatusCode),
		),
	)
	defer span.End()

	if err := repo.SaveIdempotentResponse(ctx, tx, userID, key.String(), resp); err != nil {
		_ = tx.Rollback().Error
		span.SetStatus(codes.Error, err.Error())
		return domain.SavedResponse{}, &PersistenceError{Op: "save response", Err: err}
	}
	if err := tx.Commit().Error; err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.SavedResponse{}, &PersistenceError{Op: "commit", Err: err}
	}
	return resp, nil
}

// tryClaim inserts the placeholder in a fresh transaction. claimed is false
// when the key already exists; the transaction is rolled back in that case.
func (s *Store) tryClaim(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, bool, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, false, &PersistenceError{Op: "begin transaction", Err: tx.Error}
	}
	err := repo.InsertIdempotencyPlaceholder(ctx, tx, userID, key.String())
	if err == nil {
		return StartProcessing{Tx: tx, Key: key}, true, nil
	}
	_ = tx.Rollback().Error
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, false, nil
	}
	return nil, false, &PersistenceError{Op: "claim key", Err: err}
}

// awaitSaved re-reads an existing claim until its response is recorded. If
// the owner rolled back in the meantime the row is gone and the key is
// claimed again.
func (s *Store) awaitSaved(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.conflictBackoff
	b.MaxInterval = s.conflictMaxWait

	attempt := 0
	op := func() (NextAction, error) {
		attempt++
		rec, err := repo.GetIdempotency(ctx, s.db, userID, key.String())
		switch {
		case errors.Is(err, repo.ErrNotFound):
			next, claimed, cerr := s.tryClaim(ctx, userID, key)
			if cerr != nil {
				return nil, backoff.Permanent(cerr)
			}
			if claimed {
				return next, nil
			}
			return nil, errInFlight
		case err != nil:
			return nil, backoff.Permanent(&PersistenceError{Op: "read saved response", Err: err})
		}
		if resp, ok := rec.SavedResponse(); ok {
			return ReturnSaved{Response: resp}, nil
		}
		log.Debug().
			Str("user_id", userID).
			Int("attempt", attempt).
			Msg("idempotency key in flight; waiting")
		return nil, errInFlight
	}

	next, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.conflictRetries+1),
		backoff.WithMaxElapsedTime(s.conflictMaxWait),
	)
	if err == nil {
		return next, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, errInFlight) {
		log.Warn().
			Str("user_id", userID).
			Int("attempts", attempt).
			Msg("idempotency key still in flight; reporting conflict")
		return nil, ErrConflict
	}
	return nil, err
}

func actionName(next NextAction) string {
	switch next.(type) {
	case StartProcessing:
		return "start"
	case ReturnSaved:
		return "replay"
	default:
		return "unknown"
	}
}
