package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "domain.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestParseIdempotencyKey_Valid(t *testing.T) {
	for _, raw := range []string{
		"11111111-1111-1111-1111-111111111111",
		"a",
		"key_with-Mixed_CASE09",
		strings.Repeat("x", MaxIdempotencyKeyLen),
	} {
		k, err := ParseIdempotencyKey(raw)
		if err != nil {
			t.Fatalf("ParseIdempotencyKey(%q) error: %v", raw, err)
		}
		if k.String() != raw {
			t.Fatalf("String() = %q; want %q", k.String(), raw)
		}
	}
}

func TestParseIdempotencyKey_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		rule string
	}{
		{"empty", "", RuleEmpty},
		{"too long", strings.Repeat("a", MaxIdempotencyKeyLen+1), RuleTooLong},
		{"at sign", "foo@bar", RuleIllegalCharacter},
		{"space", "foo bar", RuleIllegalCharacter},
		{"tab", "foo\tbar", RuleIllegalCharacter},
		{"whitespace only", "   ", RuleIllegalCharacter},
		{"non ascii", "clé", RuleIllegalCharacter},
		{"dot", "a.b", RuleIllegalCharacter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := ParseIdempotencyKey(tc.raw)
			if err == nil {
				t.Fatalf("expected error, got key %q", k)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Rule != tc.rule {
				t.Fatalf("rule = %q; want %q", ve.Rule, tc.rule)
			}
			if !IsValidationError(fmt.Errorf("wrapped: %w", err)) {
				t.Fatalf("IsValidationError should see through wrapping")
			}
		})
	}
}

func TestIdempotency_SavedResponse_PlaceholderIsEmpty(t *testing.T) {
	rec := &Idempotency{UserID: "u1", Key: "k1"}
	if _, ok := rec.SavedResponse(); ok {
		t.Fatalf("placeholder must not yield a saved response")
	}
	var nilRec *Idempotency
	if _, ok := nilRec.SavedResponse(); ok {
		t.Fatalf("nil record must not yield a saved response")
	}
}

func TestIdempotency_RoundTripThroughDatabase(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	status := 303
	in := &Idempotency{
		UserID:             "u1",
		Key:                "k1",
		ResponseStatusCode: &status,
		ResponseHeaders: HeaderPairs{
			{Name: "Location", Value: "/admin/newsletters"},
			{Name: "Set-Cookie", Value: "a=1"},
			{Name: "Set-Cookie", Value: "b=2"},
		},
		ResponseBody: []byte(`{"ok":true}`),
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.Create(in).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var out Idempotency
	if err := db.Where("user_id = ? AND idempotency_key = ?", "u1", "k1").First(&out).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	resp, ok := out.SavedResponse()
	if !ok {
		t.Fatalf("expected saved response")
	}
	if resp.StatusCode != 303 || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Headers) != 3 || resp.Headers[1].Value != "a=1" || resp.Headers[2].Value != "b=2" {
		t.Fatalf("header order/duplicates not preserved: %+v", resp.Headers)
	}
}

func TestIdempotency_PrimaryKeyRejectsDuplicates(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()
	if err := db.Create(&Idempotency{UserID: "u1", Key: "k1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := db.Create(&Idempotency{UserID: "u1", Key: "k1", CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected unique violation on (user_id, idempotency_key)")
	}
	// Same key, other caller is a different command.
	if err := db.Create(&Idempotency{UserID: "u2", Key: "k1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("other user insert: %v", err)
	}
}

func TestHeaderPairs_NilIsNull(t *testing.T) {
	v, err := HeaderPairs(nil).Value()
	if err != nil || v != nil {
		t.Fatalf("nil headers should be NULL, got (%v, %v)", v, err)
	}
	var h HeaderPairs
	if err := h.Scan(nil); err != nil || h != nil {
		t.Fatalf("scan nil: (%v, %v)", h, err)
	}
	if err := h.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported scan type")
	}
}
