package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newSubscriptionService(t *testing.T) (*SubscriptionService, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	return NewSubscriptionService(newTestDB(t), sender, "http://localhost:8080/"), sender
}

// tokenFromLink extracts subscription_token from the confirmation link in text.
func tokenFromLink(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "http://")
	if i < 0 {
		t.Fatalf("no link in %q", text)
	}
	link := strings.Fields(text[i:])[0]
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	if u.Path != "/subscriptions/confirm" {
		t.Fatalf("link path = %q", u.Path)
	}
	return u.Query().Get("subscription_token")
}

func TestSubscribe_StoresPendingAndSendsLink(t *testing.T) {
	s, sender := newSubscriptionService(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "  le guin ", "ursula_le_guin@gmail.com")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Status != domain.SubscriptionPending || sub.Name != "le guin" {
		t.Fatalf("unexpected subscriber %+v", sub)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails; want 1", len(sent))
	}
	if sent[0].Recipient != "ursula_le_guin@gmail.com" || sent[0].Subject != "Welcome!" {
		t.Fatalf("unexpected email %+v", sent[0])
	}
	token := tokenFromLink(t, sent[0].Text)
	if len(token) != tokenLen {
		t.Fatalf("token %q has length %d; want %d", token, len(token), tokenLen)
	}
	if !strings.Contains(sent[0].HTML, token) {
		t.Fatalf("html body lacks the token")
	}

	if err := s.Confirm(ctx, token); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	got, err := repo.GetSubscriptionByEmail(ctx, s.DB, "ursula_le_guin@gmail.com")
	if err != nil {
		t.Fatalf("GetSubscriptionByEmail: %v", err)
	}
	if got.Status != domain.SubscriptionConfirmed {
		t.Fatalf("status = %q; want confirmed", got.Status)
	}
}

func TestSubscribe_Duplicate(t *testing.T) {
	s, _ := newSubscriptionService(t)
	ctx := context.Background()
	if _, err := s.Subscribe(ctx, "A", "a@example.com"); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := s.Subscribe(ctx, "B", "a@example.com"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("err = %v; want ErrAlreadySubscribed", err)
	}
}

func TestSubscribe_InvalidInput(t *testing.T) {
	s, sender := newSubscriptionService(t)
	cases := []struct {
		name, email string
	}{
		{"", "a@example.com"},
		{"   ", "a@example.com"},
		{strings.Repeat("a", 257), "a@example.com"},
		{"Ursula", ""},
		{"Ursula", "definitely-not-an-email"},
		{"Ursula", "@domain.com"},
	}
	for _, c := range forbiddenChars {
		cases = append(cases, struct{ name, email string }{"bad" + string(c) + "name", "a@example.com"})
	}
	for _, tc := range cases {
		if _, err := s.Subscribe(context.Background(), tc.name, tc.email); !domain.IsValidationError(err) {
			t.Fatalf("Subscribe(%q, %q) err = %v; want ValidationError", tc.name, tc.email, err)
		}
	}
	if len(sender.Sent()) != 0 {
		t.Fatalf("no email should be sent for invalid input")
	}
	if n := count(t, s.DB, &domain.Subscription{}); n != 0 {
		t.Fatalf("subscriptions stored for invalid input: %d", n)
	}
}

func TestParseSubscriberName_LongUnicodeIsValid(t *testing.T) {
	name := strings.Repeat("ё", 256)
	got, err := ParseSubscriberName(name)
	if err != nil {
		t.Fatalf("ParseSubscriberName: %v", err)
	}
	if got != name {
		t.Fatalf("name changed")
	}
	// Decomposed e + combining acute is stored composed.
	got, err = ParseSubscriberName("Jose\u0301")
	if err != nil || got != "Jos\u00e9" {
		t.Fatalf("NFC normalisation: got (%q, %v)", got, err)
	}
}

func TestSubscribe_EmailFailureKeepsSubscriber(t *testing.T) {
	s, sender := newSubscriptionService(t)
	sender.err = errors.New("gateway down")

	_, err := s.Subscribe(context.Background(), "A", "a@example.com")
	if !errors.Is(err, ErrConfirmationEmail) {
		t.Fatalf("err = %v; want ErrConfirmationEmail", err)
	}
	if n := count(t, s.DB, &domain.SubscriptionToken{}); n != 1 {
		t.Fatalf("tokens = %d; want 1", n)
	}
}

func TestConfirm_UnknownAndEmptyToken(t *testing.T) {
	s, _ := newSubscriptionService(t)
	if err := s.Confirm(context.Background(), "nope"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v; want ErrUnknownToken", err)
	}
	if err := s.Confirm(context.Background(), " "); !domain.IsValidationError(err) {
		t.Fatalf("err = %v; want ValidationError", err)
	}
}

func TestGenerateSubscriptionToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := generateSubscriptionToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(tok) != tokenLen || strings.Trim(tok, tokenAlphabet) != "" {
			t.Fatalf("bad token %q", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}
