package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func TestMetricsAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		setAuth  bool
		user     string
		pass     string
		header   string
		want     int
	}{
		{name: "valid credentials", username: "admin", password: "s3cret", setAuth: true, user: "admin", pass: "s3cret", want: http.StatusOK},
		{name: "no credentials", username: "admin", password: "s3cret", want: http.StatusUnauthorized},
		{name: "wrong username", username: "admin", password: "s3cret", setAuth: true, user: "root", pass: "s3cret", want: http.StatusUnauthorized},
		{name: "wrong password", username: "admin", password: "s3cret", setAuth: true, user: "admin", pass: "nope", want: http.StatusUnauthorized},
		{name: "empty credentials sent", username: "admin", password: "s3cret", setAuth: true, want: http.StatusUnauthorized},
		{name: "malformed header", username: "admin", password: "s3cret", header: "Basic !!!", want: http.StatusUnauthorized},
		{name: "disabled", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewMetricsAuthMiddleware(tt.username, tt.password)
			req := httptest.NewRequest("GET", "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			mw.Handler(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 should carry WWW-Authenticate")
			}
		})
	}
}

func TestMetricsAuthMiddleware_Enabled(t *testing.T) {
	if NewMetricsAuthMiddleware("", "").Enabled() {
		t.Error("should be disabled without credentials")
	}
	if !NewMetricsAuthMiddleware("", "p").Enabled() {
		t.Error("a password alone enables auth")
	}
}
