package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

func Test_failInternal_LogsCauseAndHidesIt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		failInternal(c, ErrCodePublishFailed, "failed to publish", errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp != (ErrorResponse{RequestID: "rid-500", Code: ErrCodePublishFailed, Message: "failed to publish"}) {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Fatal("cause leaked to the client")
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "disk on fire") {
		t.Fatalf("expected error log with cause, got: %s", buf.String())
	}
}

func Test_Fail_4xxNotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"not_found"`) {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log: %s", buf.String())
	}
}

func Test_writeSaved_PreservesHeaderOrderAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	saved := domain.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: domain.HeaderPairs{
			{Name: "Location", Value: "/admin/newsletters"},
			{Name: "X-Dup", Value: "1"},
			{Name: "X-Dup", Value: "2"},
		},
		Body: []byte(`{"issue_id":"x"}`),
	}
	r.GET("/saved", func(c *gin.Context) { writeSaved(c, saved) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/saved", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Header().Values("X-Dup"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("X-Dup = %v", got)
	}
	if w.Header().Get("Location") != "/admin/newsletters" || w.Body.String() != `{"issue_id":"x"}` {
		t.Fatalf("unexpected response %v %q", w.Header(), w.Body.String())
	}
}
