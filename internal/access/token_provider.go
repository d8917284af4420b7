// Package access authenticates API callers against the configured access token.
package access

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/router-for-me/ProxyPool/internal/security"
)

var (
	// ErrNoCredentials indicates the request carried no token.
	ErrNoCredentials = errors.New("missing access token")
	// ErrInvalidCredential indicates the token does not match the configured hash.
	ErrInvalidCredential = errors.New("invalid access token")
)

// TokenAuthenticator validates requests against a single bcrypt-hashed token.
// An empty hash disables authentication.
type TokenAuthenticator struct {
	hash string

	header             string
	scheme             string
	queryParam         string
	bypassPathPrefixes []string

	// verified caches tokens that already passed bcrypt to keep per-request cost low.
	verified sync.Map
}

// NewTokenAuthenticator constructs an authenticator for the given bcrypt hash.
func NewTokenAuthenticator(hash string) *TokenAuthenticator {
	return &TokenAuthenticator{
		hash:               strings.TrimSpace(hash),
		header:             "Authorization",
		scheme:             "Bearer",
		queryParam:         "access_token",
		bypassPathPrefixes: []string{"/healthz"},
	}
}

// Enabled reports whether a token hash is configured.
func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && a.hash != ""
}

// Authenticate returns nil when the request may proceed.
func (a *TokenAuthenticator) Authenticate(r *http.Request) error {
	if !a.Enabled() || r == nil {
		return nil
	}
	if r.URL != nil {
		for _, prefix := range a.bypassPathPrefixes {
			if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
				return nil
			}
		}
	}

	token := extractToken(r, a.header, a.scheme, a.queryParam)
	if token == "" {
		return ErrNoCredentials
	}
	if _, ok := a.verified.Load(token); ok {
		return nil
	}
	if !security.CheckToken(a.hash, token) {
		return ErrInvalidCredential
	}
	a.verified.Store(token, struct{}{})
	return nil
}

// extractToken extracts an access token from headers or the query string.
func extractToken(r *http.Request, header string, scheme string, queryParam string) string {
	header = strings.TrimSpace(header)
	scheme = strings.TrimSpace(scheme)
	if header == "" {
		header = "Authorization"
	}
	val := strings.TrimSpace(r.Header.Get(header))
	if val != "" && scheme != "" {
		prefix := scheme + " "
		if strings.HasPrefix(val, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(val, prefix))
		}
	}
	if val != "" && scheme == "" {
		return val
	}
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	if r.URL != nil && queryParam != "" {
		if v := strings.TrimSpace(r.URL.Query().Get(queryParam)); v != "" {
			return v
		}
	}
	return ""
}
