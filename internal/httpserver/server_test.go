package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/turnrest"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, log, BuildInfo{Commit: "abc", BuildTime: "time"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func startTestServer(t *testing.T, srv *Server) (baseURL string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if err := <-errCh; !IsServerClosed(err) {
			t.Errorf("Serve returned %v, want ErrServerClosed", err)
		}
	})

	return "http://" + ln.Addr().String()
}

type icePayload struct {
	ICEServers []struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username"`
		Credential any      `json:"credential"`
	} `json:"iceServers"`
}

func getICE(t *testing.T, baseURL string) icePayload {
	t.Helper()

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	var payload icePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return payload
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, newTestServer(t, testConfig()))

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		if got := resp.Header.Get("X-Request-ID"); got == "" {
			t.Fatalf("missing X-Request-ID response header")
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestReadyzReflectsReadiness(t *testing.T) {
	srv := newTestServer(t, testConfig())
	baseURL := startTestServer(t, srv)
	srv.SetReady(false)

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	baseURL := startTestServer(t, newTestServer(t, testConfig()))

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID=%q, want %q", got, "req-123")
	}
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	baseURL := startTestServer(t, newTestServer(t, cfg))

	payload := getICE(t, baseURL)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("len(iceServers)=%d, want 2", len(payload.ICEServers))
	}
	if got := payload.ICEServers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("urls=%v", got)
	}
	if payload.ICEServers[1].Username != "user" || payload.ICEServers[1].Credential != "pass" {
		t.Fatalf("turn creds=%q/%v, want static user/pass", payload.ICEServers[1].Username, payload.ICEServers[1].Credential)
	}
}

func TestICEEndpoint_EmptyListIsArray(t *testing.T) {
	baseURL := startTestServer(t, newTestServer(t, testConfig()))

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.TrimSpace(string(body)); got != `{"iceServers":[]}` {
		t.Fatalf("body=%s, want empty array", got)
	}
}

func TestICEEndpoint_InjectsTURNRESTCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTLSeconds: 60, UsernamePrefix: "cam"}
	baseURL := startTestServer(t, newTestServer(t, cfg))

	payload := getICE(t, baseURL)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("len(iceServers)=%d, want 2", len(payload.ICEServers))
	}
	if payload.ICEServers[0].Username != "" {
		t.Fatalf("stun entry got username %q", payload.ICEServers[0].Username)
	}

	turn := payload.ICEServers[1]
	if !strings.Contains(turn.Username, ":cam:") {
		t.Fatalf("username=%q, want expiry:cam:id", turn.Username)
	}
	if want := turnrest.Sign([]byte("s3cret"), turn.Username); turn.Credential != want {
		t.Fatalf("credential=%v, want %q", turn.Credential, want)
	}

	// Each request mints fresh credentials.
	again := getICE(t, baseURL)
	if again.ICEServers[1].Username == turn.Username {
		t.Fatalf("username reused across requests: %q", turn.Username)
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	baseURL := startTestServer(t, newTestServer(t, cfg))

	req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestICEEndpoint_AllowListedOriginPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL := startTestServer(t, newTestServer(t, cfg))

	req, err := http.NewRequest(http.MethodOptions, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "authorization")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "authorization" {
		t.Fatalf("Access-Control-Allow-Headers=%q", got)
	}
}

func TestNew_RejectsInvalidTURNREST(t *testing.T) {
	cfg := testConfig()
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "a:b"}
	if _, err := New(cfg, nil, BuildInfo{}); err == nil {
		t.Fatalf("expected error for prefix containing ':'")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	srv := newTestServer(t, testConfig())
	srv.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	baseURL := startTestServer(t, srv)

	resp, err := http.Get(baseURL + "/boom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestMiddlewareChainKeepsUpgradesHijackable(t *testing.T) {
	srv := newTestServer(t, testConfig())
	upgrader := websocket.Upgrader{}
	srv.Mux().HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(mt, data)
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/echo", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("echo=%q, want %q", data, "hi")
	}
}

func TestWrapRunsOutermost(t *testing.T) {
	srv := newTestServer(t, testConfig())
	srv.Wrap(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/blocked" {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blocked", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Header().Get("X-Request-ID") != "" {
		t.Fatalf("inner middleware ran before wrapper")
	}
}
