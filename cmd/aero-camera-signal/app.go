package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/signaling"
)

// app is the wired process: the HTTP surface, the signaling gateway and the
// hub they share.
type app struct {
	srv     *httpserver.Server
	gateway *signaling.Gateway
	hub     *signaling.Hub
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	srv, err := httpserver.New(cfg, logger, build)
	if err != nil {
		return nil, err
	}

	authz, err := signaling.NewAuthAuthorizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("signaling auth: %w", err)
	}

	m := metrics.New()
	registry := signaling.NewRegistry()
	hub := signaling.NewHub(signaling.HubConfig{
		Registry: registry,
		Metrics:  m,
		Logger:   logger,
	})
	gw := signaling.NewGateway(signaling.GatewayConfig{
		Hub:                  hub,
		Path:                 cfg.SignalPath,
		AllowedOrigins:       cfg.AllowedOrigins,
		Authorizer:           authz,
		MaxClients:           cfg.MaxClients,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueMessages:    cfg.SignalingSendQueueMessages,
		SendQueueBytes:       cfg.SignalingSendQueueBytes,
		PingInterval:         cfg.SignalingWSPingInterval,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		Logger:               logger,
	})

	srv.Mux().Handle(gw.Path(), gw)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, func() map[string]int {
		return map[string]int{
			string(signaling.RoleCamera):  registry.CountByRole(signaling.RoleCamera),
			string(signaling.RoleMonitor): registry.CountByRole(signaling.RoleMonitor),
		}
	}))
	// Stray upgrades must be dropped before any middleware can answer them.
	srv.Wrap(gw.RejectStrayUpgrades)

	return &app{srv: srv, gateway: gw, hub: hub}, nil
}

// shutdown stops readiness, closes every signaling connection through its
// normal close path, then shuts the HTTP server down.
func (a *app) shutdown(ctx context.Context) error {
	a.srv.SetReady(false)

	done := make(chan struct{})
	go func() {
		a.gateway.Close()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("closing signaling connections: %w", ctx.Err()))
	}

	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}
