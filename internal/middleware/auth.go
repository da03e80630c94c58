// Package middleware guards HTTP handlers with Basic authentication backed by
// the provider chain.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/ldapfence/internal/auth"
	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = "X-Request-Id"

type contextKey string

const (
	credentialContextKey contextKey = "credential"
	requestIDContextKey  contextKey = "request_id"
)

// Authenticator decides a raw Authorization header value.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) *auth.Credential
}

var _ Authenticator = (*auth.Gateway)(nil)

// CredentialFromContext returns the identity accepted by Authenticate, or nil
// on bypassed and unauthenticated routes.
func CredentialFromContext(ctx context.Context) *auth.Credential {
	cred, ok := ctx.Value(credentialContextKey).(*auth.Credential)
	if !ok {
		return nil
	}
	return cred
}

// RequestIDFromContext returns the request correlation ID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// RequestID tags the request with a correlation ID, reusing a caller supplied
// X-Request-Id, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = withRequestID(w, r)
		next.ServeHTTP(w, r)
	})
}

// Authenticate rejects every request that the gateway does not accept.
//
// Requests must carry exactly one Authorization header; zero or several are
// rejected without consulting the gateway. A rejection is a 401 with an empty
// application/json body. Paths in bypass are served without a check.
func Authenticate(gateway Authenticator, logger logging.Logger, m metrics.Recorder, bypass []string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}

	bypassSet := make(map[string]struct{}, len(bypass))
	for _, p := range bypass {
		bypassSet[normalizePath(p)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypassSet[normalizePath(r.URL.Path)]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			r, requestID := withRequestID(w, r)
			fields := map[string]any{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			}

			headers := r.Header.Values("Authorization")
			if len(headers) != 1 {
				fields["authorization_headers"] = len(headers)
				logger.Debug("Rejected request without a single Authorization header", fields)
				m.RecordAuthRequest("rejected", time.Since(start))
				unauthorized(w)
				return
			}

			cred := gateway.Authenticate(r.Context(), headers[0])
			if cred == nil {
				logger.Info("Rejected request", fields)
				unauthorized(w)
				return
			}

			fields["username"] = cred.Username
			fields["source"] = cred.Source
			logger.Info("Accepted request", fields)

			ctx := context.WithValue(r.Context(), credentialContextKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
}

// withRequestID returns r carrying a correlation ID. An ID already in the
// context wins, then the request header, then a fresh one.
func withRequestID(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return r, id
	}

	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	return r.WithContext(context.WithValue(r.Context(), requestIDContextKey, id)), id
}

func normalizePath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
