package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
)

func newTestMiddleware() *Middleware {
	return New(nil, logger.New("disabled", "json"), &config.Config{})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:43210"
	if ip := clientIP(req); ip != "192.0.2.10:43210" {
		t.Fatalf("clientIP = %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("clientIP = %q, want forwarded address", ip)
	}
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	mw := newTestMiddleware()

	var seen string
	h := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no request id generated")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q, context %q", got, seen)
	}

	// A caller-supplied id is kept, not replaced.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-id-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "caller-id-1" {
		t.Fatalf("request id = %q, want caller-id-1", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	mw := newTestMiddleware()
	h := mw.SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	mw := newTestMiddleware()
	h := mw.CORS([]string{"https://admin.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}

	// Unlisted origins get no CORS headers at all.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin = %q for unlisted origin", got)
	}

	// Preflight short-circuits before the handler.
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	mw := newTestMiddleware()
	h := mw.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Fatal("expected an error envelope body")
	}
}

func TestLocalLimiterEnforcesBurst(t *testing.T) {
	l := newLocalLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d denied within the burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request over the burst allowed")
	}
	// Keys are limited independently.
	if !l.allow("10.0.0.2") {
		t.Fatal("fresh key denied")
	}
}

func TestLocalLimiterBoundsKeyMap(t *testing.T) {
	l := newLocalLimiter(1, time.Minute)
	for i := 0; i < localLimiterMaxKeys; i++ {
		l.allow("key-" + strconv.Itoa(i))
	}
	// The map resets instead of growing without bound.
	l.allow("overflow-key")
	if len(l.buckets) > localLimiterMaxKeys {
		t.Fatalf("bucket map grew to %d", len(l.buckets))
	}
}
