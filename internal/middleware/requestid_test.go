package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/confirmd/confirmd/internal/logger"
)

func TestRequestIDAssignsWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if seen == "" {
		t.Fatal("no request ID in the handler context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header = %q, context = %q", got, seen)
	}
}

func TestRequestIDKeepsClientValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "client-supplied" {
		t.Fatalf("context ID = %q, want the client value", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "client-supplied" {
		t.Fatalf("response header = %q", got)
	}
}
