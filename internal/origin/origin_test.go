package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{in: "HTTPS://Example.COM:443", wantNormalized: "https://example.com", wantHost: "example.com", wantOK: true},
		{in: "http://example.com:80", wantNormalized: "http://example.com", wantHost: "example.com", wantOK: true},
		{in: "https://example.com:80", wantNormalized: "https://example.com:80", wantHost: "example.com:80", wantOK: true},
		{in: "http://localhost:5173/", wantNormalized: "http://localhost:5173", wantHost: "localhost:5173", wantOK: true},
		{in: "http://[::1]:8080", wantNormalized: "http://[::1]:8080", wantHost: "[::1]:8080", wantOK: true},
		{in: "  null ", wantNormalized: "null", wantHost: "", wantOK: true},
		{in: ""},
		{in: "example.com"},
		{in: "ftp://example.com"},
		{in: "https://example.com/path"},
		{in: "https://example.com/?q=1"},
		{in: "https://example.com?"},
		{in: "https://user@example.com"},
		{in: "https://example.com/#frag"},
		{in: "https://example.com:0"},
		{in: "https://example.com:70000"},
		{in: "https://example.com:"},
	}
	for _, tt := range tests {
		normalized, host, ok := NormalizeHeader(tt.in)
		if ok != tt.wantOK {
			t.Fatalf("NormalizeHeader(%q) ok=%v, want %v", tt.in, ok, tt.wantOK)
		}
		if normalized != tt.wantNormalized || host != tt.wantHost {
			t.Fatalf("NormalizeHeader(%q)=(%q, %q), want (%q, %q)", tt.in, normalized, host, tt.wantNormalized, tt.wantHost)
		}
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	normalized, host, ok := NormalizeHeader("https://app.example.com")
	if !ok {
		t.Fatalf("NormalizeHeader ok=false")
	}
	for requestHost, want := range map[string]bool{
		"app.example.com":      true,
		"APP.example.com:443":  true,
		"app.example.com:8443": false,
		"other.example.com":    false,
		"":                     false,
	} {
		if got := IsAllowed(normalized, host, requestHost, nil); got != want {
			t.Fatalf("IsAllowed(request host %q)=%v, want %v", requestHost, got, want)
		}
	}
}

func TestIsAllowed_AllowList(t *testing.T) {
	normalized, host, _ := NormalizeHeader("https://app.example.com")

	if !IsAllowed(normalized, host, "signal.example.com", []string{"*"}) {
		t.Fatalf("expected * to allow any origin")
	}
	if !IsAllowed(normalized, host, "signal.example.com", []string{"https://other.example.com", "https://app.example.com"}) {
		t.Fatalf("expected listed origin to be allowed")
	}
	if IsAllowed(normalized, host, "app.example.com", []string{"https://other.example.com"}) {
		t.Fatalf("allow list must replace the same-host default")
	}
}

func TestIsAllowed_NullOrigin(t *testing.T) {
	normalized, host, _ := NormalizeHeader("null")
	if IsAllowed(normalized, host, "app.example.com", nil) {
		t.Fatalf("null origin must not match a host")
	}
	if !IsAllowed(normalized, host, "app.example.com", []string{"null"}) {
		t.Fatalf("null origin should be allowed when listed")
	}
}
