package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
)

type Verifier interface {
	Verify(credential string) error
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

var ErrMissingCredentials = errors.New("missing credentials")

// CredentialFromRequest extracts the API key from an HTTP request. Headers win
// over the query string: X-API-Key, then `Authorization: ApiKey <key>` (or
// Bearer), then ?apiKey=. Browsers cannot set headers on a WebSocket upgrade,
// so the query string is the usual source for signaling clients.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}

	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v, nil
	}
	if v, ok := authorizationCredential(r.Header.Get("Authorization")); ok {
		return v, nil
	}
	if v := strings.TrimSpace(r.URL.Query().Get("apiKey")); v != "" {
		return v, nil
	}
	return "", ErrMissingCredentials
}

func authorizationCredential(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "apikey", "bearer":
	default:
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
