package auth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
)

func newRequest(t *testing.T, target string, headers map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    string
		wantErr error
	}{
		{name: "query", target: "http://example.com/ws?apiKey=q", want: "q"},
		{name: "X-API-Key header", target: "http://example.com/ws", headers: map[string]string{"X-API-Key": "k"}, want: "k"},
		{name: "Authorization ApiKey", target: "http://example.com/ws", headers: map[string]string{"Authorization": "ApiKey k"}, want: "k"},
		{name: "Authorization bearer", target: "http://example.com/ws", headers: map[string]string{"Authorization": "bearer k"}, want: "k"},
		{name: "header wins over query", target: "http://example.com/ws?apiKey=q", headers: map[string]string{"X-API-Key": "k"}, want: "k"},
		{name: "unknown Authorization scheme falls back to query", target: "http://example.com/ws?apiKey=q", headers: map[string]string{"Authorization": "Basic abc"}, want: "q"},
		{name: "missing", target: "http://example.com/ws", wantErr: ErrMissingCredentials},
		{name: "empty Authorization value", target: "http://example.com/ws", headers: map[string]string{"Authorization": "ApiKey   "}, wantErr: ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := CredentialFromRequest(config.AuthModeAPIKey, newRequest(t, tt.target, tt.headers))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if cred != tt.want {
				t.Fatalf("cred=%q, want %q", cred, tt.want)
			}
		})
	}
}

func TestCredentialFromRequest_ModeNone(t *testing.T) {
	cred, err := CredentialFromRequest(config.AuthModeNone, newRequest(t, "http://example.com/ws?apiKey=x", nil))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cred != "" {
		t.Fatalf("cred=%q, want empty", cred)
	}
}

func TestCredentialFromRequest_UnsupportedMode(t *testing.T) {
	if _, err := CredentialFromRequest("jwt", newRequest(t, "http://example.com/ws", nil)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAPIKeyVerifier(t *testing.T) {
	v := APIKeyVerifier{Expected: "secret"}
	if err := v.Verify("secret"); err != nil {
		t.Fatalf("Verify(secret)=%v, want nil", err)
	}
	for _, bad := range []string{"", "Secret", "secret2"} {
		if err := v.Verify(bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Verify(%q)=%v, want %v", bad, err, ErrInvalidCredentials)
		}
	}
	if err := (APIKeyVerifier{}).Verify("anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty expected key must reject, got %v", err)
	}
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify("k"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := NewVerifier(config.Config{AuthMode: config.AuthModeNone}); err == nil {
		t.Fatalf("expected error for auth mode none")
	}
}
