// Package middleware contains HTTP middleware for the study API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler
// and are composed with Stack.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/dentaistudy/internal/auth"
	"github.com/DukeRupert/dentaistudy/internal/handler"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/google/uuid"
)

// DeviceIDHeader carries a client-generated UUID for anonymous metering.
const DeviceIDHeader = "X-Device-Id"

// =============================================================================
// Bearer Auth Middleware
// =============================================================================

// AuthMiddleware resolves the caller from an Authorization bearer token.
type AuthMiddleware struct {
	verifier identity.TokenVerifier
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(verifier identity.TokenVerifier, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// WithSubject loads the caller when a bearer token is present.
//
// Requests without an Authorization header continue anonymously. A token
// that is present but invalid is rejected with 401 rather than downgraded
// to anonymous, so a client with an expired session sees the problem.
func (m *AuthMiddleware) WithSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verifier.Verify(r.Context(), raw)
		if err != nil {
			m.logger.Info("rejected access token", "path", r.URL.Path, "error", err)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		ctx := auth.SetSubject(r.Context(), &auth.Subject{UserID: claims.UserID, Email: claims.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSubject rejects anonymous requests with 401.
// It must run after WithSubject.
func (m *AuthMiddleware) RequireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetSubject(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// A header with any other scheme counts as present so it is rejected.
func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// =============================================================================
// Device Key Middleware
// =============================================================================

// DeviceKey derives the anonymous metering key and stores it in the context.
//
// A well-formed X-Device-Id header is used as-is. Otherwise the key is a
// hash of client IP and user agent, so clients that never send the header
// still share one allowance per browser and network.
func DeviceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.SetDeviceKey(r.Context(), deviceKey(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deviceKey(r *http.Request) string {
	if id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(DeviceIDHeader))); err == nil {
		return "dev:" + id.String()
	}
	sum := sha256.Sum256([]byte(getClientIP(r) + "|" + r.UserAgent()))
	return "fp:" + hex.EncodeToString(sum[:16])
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
// The first middleware is the outermost.
//
// Example:
//
//	stack := Stack(logging.Handler, authMw.WithSubject, authMw.RequireSubject)
//	mux.Handle("GET /api/me/entitlement", stack(h))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithSubject
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireSubject
	_ func(http.Handler) http.Handler = DeviceKey
)
