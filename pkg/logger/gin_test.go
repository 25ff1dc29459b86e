package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(New("test")))

	var fromCtx, fromGin bool
	r.GET("/x", func(c *gin.Context) {
		fromGin = FromGin(c) != nil
		fromCtx = From(c.Request.Context()) == FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
	if !fromGin || !fromCtx {
		t.Fatalf("request logger not propagated to context")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestMiddleware_SummaryCarriesSubjectAndLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/jobs", func(c *gin.Context) {
		c.Set("subject", "cron")
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/jobs", nil))

	dec := json.NewDecoder(&buf)
	var health, jobs map[string]any
	if err := dec.Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := dec.Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["level"] != "DEBUG" {
		t.Fatalf("expected health probe at debug, got %v", health["level"])
	}
	if jobs["level"] != "INFO" || jobs["subject"] != "cron" {
		t.Fatalf("unexpected job summary: %v", jobs)
	}
}
