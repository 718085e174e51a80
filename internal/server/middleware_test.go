package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generates", incoming: ""},
		{name: "propagates", incoming: "trace-7f3a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/test", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if tt.incoming != "" && got != tt.incoming {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.incoming)
			}
		})
	}
}

func TestLoggingMiddleware_passes_status(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	w := httptest.NewRecorder()
	LoggingMiddleware(zap.NewNop(), nil)(inner).ServeHTTP(w, httptest.NewRequest("GET", "/x", http.NoBody))
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestLoggingMiddleware_logs_route_and_device(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/ws/devices/{device_id}", okHandler())
	h := LoggingMiddleware(zap.New(core), []string{"/healthz"})(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/ws/devices/r7", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", http.NoBody))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d requests, want 1 (skip path excluded)", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "GET /api/v1/ws/devices/{device_id}" {
		t.Errorf("route = %v", fields["route"])
	}
	if fields["device_id"] != "r7" {
		t.Errorf("device_id = %v, want r7", fields["device_id"])
	}
}

func TestLoggingMiddleware_event_stream_kept_out_of_latency(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mux := http.NewServeMux()
	mux.Handle("GET /streams/{device_id}", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))
	h := LoggingMiddleware(zap.New(core), nil)(mux)
	series := func(c prometheus.Collector) int {
		ch := make(chan prometheus.Metric, 256)
		c.Collect(ch)
		close(ch)
		return len(ch)
	}
	countsBefore, durationsBefore := series(httpRequestsTotal), series(httpRequestDuration)

	req := httptest.NewRequest("GET", "/streams/r3", http.NoBody)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if entries[0].Message != "event stream closed" {
		t.Errorf("message = %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["device_id"] != "r3" || fields["remote"] != "203.0.113.9" {
		t.Errorf("fields = %v", fields)
	}
	if got := series(httpRequestsTotal); got != countsBefore+1 {
		t.Errorf("request series %d -> %d, want the 101 route counted", countsBefore, got)
	}
	if got := series(httpRequestDuration); got != durationsBefore {
		t.Errorf("duration series %d -> %d, stream lifetime must not be observed", durationsBefore, got)
	}
}

func TestSecurityAndVersionHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	Chain(okHandler(), SecurityHeadersMiddleware, VersionHeaderMiddleware).
		ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("X-Nasguard-Version") == "" {
		t.Error("expected X-Nasguard-Version header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	w := httptest.NewRecorder()
	RecoveryMiddleware(zap.NewNop())(inner).ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q", ct)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, []string{"/healthz"})(okHandler())

	send := func(path string) int {
		req := httptest.NewRequest("GET", path, http.NoBody)
		req.RemoteAddr = "10.0.0.1:9999"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := send("/api/v1/plugins"); got != http.StatusOK {
		t.Fatalf("first request = %d, want 200", got)
	}
	if got := send("/api/v1/plugins"); got != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", got)
	}
	for i := 0; i < 5; i++ {
		if got := send("/healthz"); got != http.StatusOK {
			t.Fatalf("skipped path request %d = %d, want 200", i, got)
		}
	}
}

func TestChain_order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-before")
				next.ServeHTTP(w, r)
				order = append(order, name+"-after")
			})
		}
	}
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })

	Chain(inner, mw("a"), mw("b")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	want := "a-before,b-before,handler,b-after,a-after"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "remote addr", remote: "192.168.1.100:12345", want: "192.168.1.100"},
		{name: "forwarded", remote: "127.0.0.1:1", xff: "203.0.113.50, 70.41.3.18", want: "203.0.113.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusNotFound)
	if sw.status != http.StatusCreated {
		t.Errorf("status = %d, want first WriteHeader to win", sw.status)
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
}
