package signaling

import (
	"errors"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
)

// Authorizer decides whether an upgrade request may join signaling.
type Authorizer interface {
	Authorize(r *http.Request) error
}

type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Authorize(*http.Request) error { return nil }

// AuthAuthorizer enforces AUTH_MODE=none|api_key on upgrade requests.
// Credentials come from the X-API-Key header, `Authorization: ApiKey <key>`,
// or the apiKey query parameter.
type AuthAuthorizer struct {
	mode     config.AuthMode
	verifier auth.Verifier
}

func NewAuthAuthorizer(cfg config.Config) (AuthAuthorizer, error) {
	if cfg.AuthMode == config.AuthModeNone {
		return AuthAuthorizer{mode: cfg.AuthMode}, nil
	}
	v, err := auth.NewVerifier(cfg)
	if err != nil {
		return AuthAuthorizer{}, err
	}
	return AuthAuthorizer{mode: cfg.AuthMode, verifier: v}, nil
}

func (a AuthAuthorizer) Authorize(r *http.Request) error {
	if a.mode == config.AuthModeNone {
		return nil
	}
	if a.verifier == nil {
		return errors.New("auth verifier not configured")
	}
	cred, err := auth.CredentialFromRequest(a.mode, r)
	if err != nil {
		return err
	}
	return a.verifier.Verify(cred)
}

// IsUnauthorized reports whether err is a credential problem rather than a
// server misconfiguration.
func IsUnauthorized(err error) bool {
	return errors.Is(err, auth.ErrMissingCredentials) || errors.Is(err, auth.ErrInvalidCredentials)
}
