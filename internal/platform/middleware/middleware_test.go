package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/klinik/klinik/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_Generated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return okHandler(c)
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen == "" {
		t.Fatal("expected request_id to be set on context")
	}
	if got := rec.Header().Get(echo.HeaderXRequestID); got != seen {
		t.Fatalf("header X-Request-ID = %q, context = %q", got, seen)
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "upstream-abc")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderXRequestID); got != "upstream-abc" {
		t.Fatalf("expected upstream request id to be preserved, got %q", got)
	}
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(req, rec)); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimit_KeysPerClient(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("client A rejected: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.4:1234"
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("client B should have its own bucket: %v", err)
	}
}

func TestAudit_RecordsAPIAccess(t *testing.T) {
	e := echo.New()
	var recorded []AuditEntry
	rec := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	h := Audit(zerolog.Nop(), rec)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", nil)
	w := httptest.NewRecorder()
	c := e.NewContext(req, w)
	c.Set("request_id", "req-1")
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorded))
	}
	entry := recorded[0]
	if entry.Resource != "visits" {
		t.Errorf("resource = %q, want visits", entry.Resource)
	}
	if entry.Action != "create" {
		t.Errorf("action = %q, want create", entry.Action)
	}
	if entry.RequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", entry.RequestID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", entry.StatusCode)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	var recorded []AuditEntry
	rec := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	h := Audit(zerolog.Nop(), rec)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(recorded) != 0 {
		t.Fatalf("expected health check to be exempt, got %d entries", len(recorded))
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	cases := map[string]string{
		http.MethodGet:    "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range cases {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	e := echo.New()
	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
}

func TestLogger_EmitsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits?limit=5", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "dr-1"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	h := Logger(logger)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	want := map[string]string{
		"request_id": "req-123",
		"method":     http.MethodGet,
		"path":       "/api/v1/visits",
		"query":      "limit=5",
		"user_id":    "dr-1",
	}
	for field, expected := range want {
		if got, _ := entry[field].(string); got != expected {
			t.Errorf("field %s: expected %q, got %q", field, expected, got)
		}
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusOK {
		t.Errorf("expected status 200, got %v", entry["status"])
	}
}

func TestLogger_OmitsUserWhenUnauthenticated(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Logger(logger)(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("expected no user_id field on an unauthenticated request")
	}
}
