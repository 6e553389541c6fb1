// Package auth provides the bearer-token authentication middleware guarding
// the sync API server.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// RFC 6750 Section 3 error codes
const (
	// errorCodeInvalidRequest indicates the request is missing a required parameter,
	// includes an unsupported parameter or parameter value, or is otherwise malformed.
	errorCodeInvalidRequest = "invalid_request"

	// errorCodeInvalidToken indicates the access token provided is expired, revoked,
	// malformed, or invalid for other reasons.
	errorCodeInvalidToken = "invalid_token"
)

// defaultRealm is the default protection space identifier
const defaultRealm = "reporank"

// bearerMiddleware authenticates requests against a single shared credential.
type bearerMiddleware struct {
	token  string
	realm  string
	logger *zap.Logger
}

// NewMiddleware returns an HTTP middleware that requires the shared bearer
// credential on every request. Comparison is constant-time.
func NewMiddleware(token string, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if token == "" {
		return nil, fmt.Errorf("bearer token must not be empty")
	}

	m := &bearerMiddleware{
		token:  token,
		realm:  defaultRealm,
		logger: logger,
	}
	return m.middleware, nil
}

func (m *bearerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			m.logger.Warn("Token extraction failed",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path))
			m.writeError(w, errorCodeInvalidRequest, "missing or malformed authorization header")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			m.logger.Warn("Token validation failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path))
			m.writeError(w, errorCodeInvalidToken, "token validation failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the credential out of the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("authorization header is missing")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("authorization header is not a bearer token")
	}
	return token, nil
}

// sanitizeHeaderValue removes characters that could enable header injection attacks.
// This includes newlines, carriage returns, and unescaped quotes.
func sanitizeHeaderValue(s string) string {
	// Fast path: no sanitization needed
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	// Remove CR and LF to prevent header injection
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	// Escape quotes for use in quoted-string (RFC 7230)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// writeError writes a JSON error response with an RFC 6750 compliant
// WWW-Authenticate header.
func (m *bearerMiddleware) writeError(w http.ResponseWriter, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(http.StatusUnauthorized)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// WrapWithPublicPaths wraps an auth middleware to bypass authentication for
// public paths. Requests to public paths are passed directly to the next
// handler without authentication.
func WrapWithPublicPaths(
	authMw func(http.Handler) http.Handler,
	publicPaths []string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// Pre-wrap the handler once during initialization, not per-request
		authWrappedNext := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
			} else {
				authWrappedNext.ServeHTTP(w, r)
			}
		})
	}
}

func isPublicPath(path string, publicPaths []string) bool {
	for _, public := range publicPaths {
		if path == public {
			return true
		}
	}
	return false
}
