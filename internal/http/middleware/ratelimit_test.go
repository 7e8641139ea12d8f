package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request = req

	req.Header.Set(HeaderUserID, "spoofed")
	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("ip key = %q", got)
	}
	c.Set("userID", "u123")
	if got := KeyByUserOrIP()(c); got != "user:u123" {
		t.Fatalf("user key = %q", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("burst=%d keyFn nil=%v", rl.burst, rl.keyFn == nil)
	}
	now := time.Now()
	if rl.limiterFor("k", now) != rl.limiterFor("k", now) {
		t.Fatal("bucket not reused")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.ttl = time.Minute
	now := time.Now()

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: now.Add(-time.Hour)}
	rl.lookups = gcEvery - 1
	rl.mu.Unlock()

	rl.limiterFor("new", now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatal("idle bucket survived the sweep")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatal("requested bucket missing")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookups = %d", rl.lookups)
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(0.5, 1, func(*gin.Context) string { return "same" })
	bypass := false
	r := newEngine(func(c *gin.Context) {
		if bypass {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}, rl.Handler())
	r.POST("/subscriptions", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions", nil))
		return w
	}

	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", w.Code)
	}
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || secs < 1 || secs > 2 {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}

	bypass = true
	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("replay should bypass: %d", w.Code)
	}
}

func TestRetryAfterSeconds_ZeroRate(t *testing.T) {
	lim := rate.NewLimiter(0, 0)
	if got := retryAfterSeconds(lim, time.Now()); got != 1 {
		t.Fatalf("got %d", got)
	}
}
