package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/athenasync/athenasync/internal/logging"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"explicit", map[string]string{"X-Request-ID": "req-1"}, "req-1"},
		{"sns message id", map[string]string{"X-Amz-Sns-Message-Id": "sns-1"}, "sns-1"},
		{"generated", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if tt.want != "" && seen != tt.want {
				t.Errorf("request id = %q, want %q", seen, tt.want)
			}
			if seen == "" {
				t.Error("expected a request id")
			}
			if rec.Header().Get("X-Request-ID") != seen {
				t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}
