package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogLevelRoute(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mux := http.NewServeMux()
	LogLevelRoute(level).RegisterRoutes(mux)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantLevel  zapcore.Level
	}{
		{name: "get", method: http.MethodGet, wantStatus: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "raise to debug", method: http.MethodPut, body: `{"level":"debug"}`, wantStatus: http.StatusOK, wantLevel: zapcore.DebugLevel},
		{name: "unknown level", method: http.MethodPut, body: `{"level":"chatty"}`, wantStatus: http.StatusBadRequest, wantLevel: zapcore.DebugLevel},
		{name: "back to warn", method: http.MethodPut, body: `{"level":"warn"}`, wantStatus: http.StatusOK, wantLevel: zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, "/api/v1/log-level", strings.NewReader(tt.body)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body)
			}
			if level.Level() != tt.wantLevel {
				t.Errorf("level = %v, want %v", level.Level(), tt.wantLevel)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				Level string `json:"level"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Level != tt.wantLevel.String() {
				t.Errorf("response level = %q, want %q", resp.Level, tt.wantLevel)
			}
		})
	}
}
