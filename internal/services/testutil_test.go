package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

type sentEmail struct {
	Recipient, Subject, HTML, Text string
}

// fakeSender records every email and optionally fails.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, recipient, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{recipient, subject, html, text})
	return nil
}

func (f *fakeSender) Sent() []sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEmail(nil), f.sent...)
}

func addConfirmed(t *testing.T, db *gorm.DB, email string) {
	t.Helper()
	ctx := context.Background()
	s, err := repo.CreateSubscription(ctx, db, email, "Reader")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if err := repo.ConfirmSubscription(ctx, db, s.ID); err != nil {
		t.Fatalf("ConfirmSubscription: %v", err)
	}
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func countAll(t *testing.T, db *gorm.DB) (idem, issues, tasks int64) {
	return count(t, db, &domain.Idempotency{}), count(t, db, &domain.NewsletterIssue{}), count(t, db, &domain.DeliveryTask{})
}
