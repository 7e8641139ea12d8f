package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type outbox struct {
	mu    sync.Mutex
	texts []string
}

func (o *outbox) SendEmail(_ context.Context, _, _, _, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.texts) == 0 {
		t.Fatal("no email sent")
	}
	const marker = "subscription_token="
	text := o.texts[len(o.texts)-1]
	i := strings.Index(text, marker)
	if i < 0 {
		t.Fatalf("no token in %q", text)
	}
	return strings.Fields(text[i+len(marker):])[0]
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:  "/",
		MaxBodyBytes: 1 << 20,
		RateRPS:      100,
		RateBurst:    100,
		OTEL:         config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB, *outbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	mail := &outbox{}
	store := idempotency.NewStore(db, idempotency.WithConflictBackoff(5*time.Millisecond))
	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:            db,
		Newsletters:   services.NewNewsletterService(db, store),
		Subscriptions: services.NewSubscriptionService(db, mail, "http://localhost:8080"),
	}, cfg)
	return r, db, mail
}

func do(r http.Handler, method, target string, form url.Values, hdr map[string]string) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig())

	w := do(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing request id or security headers: %v", w.Header())
	}

	if w := do(r, http.MethodGet, "/ready", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics = %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/nope", nil, nil); w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("404 fallback: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodDelete, "/subscriptions", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("405 fallback: %d", w.Code)
	}
}

func TestRegisterRoutes_ReadyFailsWhenDBClosed(t *testing.T) {
	r, db, _ := newTestServer(t, testConfig())
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	if w := do(r, http.MethodGet, "/ready", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://client.example"}
	r, _, _ := newTestServer(t, cfg)

	// httptest requests carry Host example.com, so the origin must differ
	// from it or the request counts as same-origin.
	w := do(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://client.example"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://client.example" {
		t.Fatalf("ACAO = %q", got)
	}

	w = do(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://other.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("ACAO for unlisted origin = %q", got)
	}
}

func TestRegisterRoutes_SubscribeConfirmPublishReplay(t *testing.T) {
	r, db, mail := newTestServer(t, testConfig())
	ctx := context.Background()

	w := do(r, http.MethodPost, "/subscriptions", url.Values{"name": {"Ursula"}, "email": {"ursula@example.com"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe = %d %s", w.Code, w.Body.String())
	}
	token := mail.lastToken(t)
	if w := do(r, http.MethodGet, "/subscriptions/confirm?subscription_token="+token, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("confirm = %d %s", w.Code, w.Body.String())
	}

	admin := map[string]string{middleware.HeaderUserID: "operator-1"}
	w = do(r, http.MethodGet, "/admin/newsletters", nil, admin)
	var form struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &form); err != nil || form.IdempotencyKey == "" {
		t.Fatalf("form key: %v %s", err, w.Body.String())
	}

	issue := url.Values{
		"title":           {"First issue"},
		"text_content":    {"Hello"},
		"html_content":    {"<p>Hello</p>"},
		"idempotency_key": {form.IdempotencyKey},
	}
	first := do(r, http.MethodPost, "/admin/newsletters", issue, admin)
	if first.Code != http.StatusSeeOther || first.Header().Get("Location") != "/admin/newsletters" {
		t.Fatalf("publish = %d %v %s", first.Code, first.Header(), first.Body.String())
	}
	var body struct {
		IssueID string `json:"issue_id"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	second := do(r, http.MethodPost, "/admin/newsletters", issue, admin)
	if second.Code != first.Code || !bytes.Equal(second.Body.Bytes(), first.Body.Bytes()) {
		t.Fatalf("replay differs: %d %s", second.Code, second.Body.String())
	}

	n, err := repo.CountDeliveryTasks(ctx, db, body.IssueID)
	if err != nil || n != 1 {
		t.Fatalf("delivery tasks = %d, %v", n, err)
	}
	var issues int64
	db.Model(&domain.NewsletterIssue{}).Count(&issues)
	if issues != 1 {
		t.Fatalf("issues = %d", issues)
	}
}

func TestRegisterRoutes_AdminGuards(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig())
	issue := url.Values{"title": {"t"}, "text_content": {"x"}, "html_content": {"y"}, "idempotency_key": {"k1"}}

	if w := do(r, http.MethodPost, "/admin/newsletters", issue, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous publish = %d", w.Code)
	}
	issue.Set("idempotency_key", "not a key!")
	w := do(r, http.MethodPost, "/admin/newsletters", issue, map[string]string{middleware.HeaderUserID: "op"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", w.Code)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("admin responses must not be cached: %v", w.Header())
	}
}

func TestRegisterRoutes_SubscriptionRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.01
	cfg.RateBurst = 1
	r, _, _ := newTestServer(t, cfg)

	form := url.Values{"name": {"A"}, "email": {"a@example.com"}}
	if w := do(r, http.MethodPost, "/subscriptions", form, nil); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	form.Set("email", "b@example.com")
	w := do(r, http.MethodPost, "/subscriptions", form, map[string]string{middleware.HeaderUserID: "spoof"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second = %d %v", w.Code, w.Header())
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _, _ := newTestServer(t, cfg)

	w := do(r, http.MethodGet, "/swagger/doc.json", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/admin/newsletters") {
		t.Fatalf("swagger doc = %d", w.Code)
	}
}

func TestSavedResponseLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	lookup := savedResponseLookup(db)

	if saved, err := lookup(ctx, "u", "k"); err != nil || saved {
		t.Fatalf("miss: %v %v", saved, err)
	}

	tx := db.Begin()
	if err := repo.InsertIdempotencyPlaceholder(ctx, tx, "u", "k"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatal(err)
	}
	if saved, err := lookup(ctx, "u", "k"); err != nil || saved {
		t.Fatalf("placeholder must not count as saved: %v %v", saved, err)
	}

	resp := domain.SavedResponse{StatusCode: http.StatusSeeOther, Body: []byte("{}")}
	if err := repo.SaveIdempotentResponse(ctx, db, "u", "k", resp); err != nil {
		t.Fatal(err)
	}
	if saved, err := lookup(ctx, "u", "k"); err != nil || !saved {
		t.Fatalf("hit: %v %v", saved, err)
	}
}

func Test_limitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
