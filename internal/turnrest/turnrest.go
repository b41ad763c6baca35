// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (the "TURN REST API" scheme):
//
//	username   = <unix_expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// coturn validates them with `use-auth-secret` and the same shared secret.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and NewID default to time.Now and a random UUID.
	Now   func() time.Time
	NewID func() string
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		newID:  cfg.NewID,
	}, nil
}

// Generate mints credentials bound to id, which must not contain ':'.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, id)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		ExpiresAt:  expires,
	}, nil
}

// GenerateRandom mints credentials for a fresh random id.
func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.newID())
}

// Sign is the coturn REST credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
