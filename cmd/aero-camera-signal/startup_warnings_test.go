package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

// recordingHandler keeps every record in memory. Groups are not needed here.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), *records...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_AuthModeNone(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, AuthMode: config.AuthModeNone})

	r, ok := warningCodes(records())["auth_mode_none"]
	if !ok {
		t.Fatalf("expected warning_code=auth_mode_none, got %#v", records())
	}
	if r.attrs["auth_mode"] != config.AuthModeNone {
		t.Fatalf("auth_mode attr = %#v, want %q", r.attrs["auth_mode"], config.AuthModeNone)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         "secret",
		AllowedOrigins: []string{"https://a.example.com", "*"},
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_UnlimitedClientsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeProd, AuthMode: config.AuthModeAPIKey, APIKey: "k"})
	if _, ok := warningCodes(records())["max_clients_unlimited_in_prod"]; !ok {
		t.Fatalf("expected warning_code=max_clients_unlimited_in_prod, got %#v", records())
	}
}

func TestStartupSecurityWarnings_QuietForHardenedConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                     config.ModeProd,
		AuthMode:                 config.AuthModeAPIKey,
		APIKey:                   "secret",
		AllowedOrigins:           []string{"https://app.example.com"},
		MaxClients:               100,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
	})

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %#v", codes)
	}
}
