package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier checks the key a camera or monitor presents on the signaling
// upgrade against the single configured API_KEY. An empty Expected rejects
// every upgrade.
type APIKeyVerifier struct {
	Expected string
}

// Verify compares in constant time; a missing and a wrong key both yield
// ErrInvalidCredentials.
func (v APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
