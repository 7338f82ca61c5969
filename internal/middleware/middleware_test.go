package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"forwarded first hop", "10.0.0.1:1", " 203.0.113.7 , 10.0.0.1", "", "203.0.113.7"},
		{"real ip", "10.0.0.1:1", "", "198.51.100.2", "198.51.100.2"},
		{"forwarded wins over real ip", "10.0.0.1:1", "203.0.113.7", "198.51.100.2", "203.0.113.7"},
		{"remote without port", "192.168.1.9", "", "", "192.168.1.9"},
		{"ipv6", "[2001:db8::1]:443", "", "", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID_AssignsAndPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if got := rec.Header().Get(HeaderRequestID); got != seen {
		t.Fatalf("response header = %q, want %q", got, seen)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" {
		t.Fatalf("expected incoming id to be kept, got %q", seen)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if len(seen) > 128 {
		t.Fatal("oversized incoming id should be replaced")
	}
}

func TestRecovery_ReturnsJSON500(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestWrapStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := WrapStatus(rec)
	if WrapStatus(w) != w {
		t.Fatal("wrapping twice should return the same writer")
	}

	w.WriteHeader(http.StatusTeapot)
	w.WriteHeader(http.StatusOK)
	if got := StatusOf(w); got != http.StatusTeapot {
		t.Fatalf("StatusOf() = %d, want %d", got, http.StatusTeapot)
	}

	implicit := WrapStatus(httptest.NewRecorder())
	implicit.Write([]byte("ok"))
	if got := StatusOf(implicit); got != http.StatusOK {
		t.Fatalf("StatusOf() = %d, want 200", got)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/x", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestCORS_WildcardDisablesCredentials(t *testing.T) {
	if CORS([]string{"*"}).AllowCredentials {
		t.Fatal("wildcard origin must not allow credentials")
	}
	opts := CORS(nil)
	if !opts.AllowCredentials || opts.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}
