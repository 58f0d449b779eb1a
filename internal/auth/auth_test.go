package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	enabled := Config{Enabled: true, Token: "s3cret"}

	tests := []struct {
		name   string
		cfg    Config
		path   string
		header string
		want   int
	}{
		{"disabled passes everything", Config{}, "/api/v1/commands", "", http.StatusOK},
		{"missing header", enabled, "/api/v1/commands", "", http.StatusUnauthorized},
		{"wrong token", enabled, "/api/v1/commands", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", enabled, "/api/v1/commands", "Basic s3cret", http.StatusUnauthorized},
		{"bare token", enabled, "/api/v1/state", "s3cret", http.StatusUnauthorized},
		{"empty bearer", enabled, "/api/v1/state", "Bearer ", http.StatusUnauthorized},
		{"valid token", enabled, "/api/v1/commands", "Bearer s3cret", http.StatusOK},
		{"websocket needs token", enabled, "/ws", "", http.StatusUnauthorized},
		{"healthz exempt", enabled, "/healthz", "", http.StatusOK},
		{"readyz exempt", enabled, "/readyz", "", http.StatusOK},
		{"metrics exempt", enabled, "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(okHandler()).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
