package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/webrtcpeer"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	if v := os.Getenv("AUTH_MODE"); v != "" && v != "none" {
		fmt.Fprintf(os.Stderr, "unsupported AUTH_MODE=%s\n", v)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	// Any origin is accepted for E2E.
	gw := signaling.NewGateway(signaling.GatewayConfig{
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	})
	mux.Handle(gw.Path(), gw)

	srv := &http.Server{
		Handler:           gw.RejectStrayUpgrades(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	if os.Getenv("FAKE_CAMERA") == "1" {
		url := fmt.Sprintf("ws://%s%s", net.JoinHostPort(bindHost, strconv.Itoa(actualPort)), gw.Path())
		interval := envDurationOrDefault("FRAME_INTERVAL", 100*time.Millisecond)
		go func() {
			if err := runFakeCamera(ctx, url, interval, logger); err != nil {
				fmt.Fprintf(os.Stderr, "fake camera: %v\n", err)
			}
		}()
	}
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		gw.Close()
		_ = srv.Shutdown(context.Background())
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// runFakeCamera registers a camera that sends "frame N" text messages to every
// monitor it is connected to.
func runFakeCamera(ctx context.Context, url string, interval time.Duration, logger *slog.Logger) error {
	cam, err := webrtcpeer.Dial(ctx, webrtcpeer.Config{
		URL:    url,
		Role:   signaling.RoleCamera,
		Name:   envOrDefault("CAMERA_NAME", "e2e camera"),
		Logger: logger,
		OnDataChannel: func(_ string, dc *webrtc.DataChannel) {
			dc.OnOpen(func() {
				go streamFrames(ctx, dc, interval)
			})
		},
	})
	if err != nil {
		return err
	}
	defer cam.Close()

	fmt.Printf("CAMERA %s\n", cam.ID())
	if err := cam.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func streamFrames(ctx context.Context, dc *webrtc.DataChannel, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if err := dc.SendText("frame " + strconv.Itoa(n)); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
