package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/origin"
	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/ratelimit"
)

const (
	DefaultSignalPath = "/ws"

	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueMessages    = 256
	defaultSendQueueBytes       = 1 << 20
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
)

var ErrGatewayClosed = errors.New("gateway closed")

// GatewayConfig wires the upgrade gateway. Zero values fall back to the
// defaults above; a nil Authorizer allows every request.
type GatewayConfig struct {
	Hub *Hub

	// Path is the only path on which upgrades enter signaling.
	Path string

	// AllowedOrigins is the Origin allow list ("*" allows any). Empty means
	// same-host only. Requests without an Origin header are allowed.
	AllowedOrigins []string

	Authorizer Authorizer

	// MaxClients caps concurrent signaling connections. 0 is unlimited.
	MaxClients int

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	SendQueueMessages int
	SendQueueBytes    int

	PingInterval time.Duration
	IdleTimeout  time.Duration

	Clock  ratelimit.Clock
	Logger *slog.Logger
}

// Gateway accepts WebSocket upgrades on the signal path and feeds every
// inbound frame and close event of each connection to the Hub.
type Gateway struct {
	cfg      GatewayConfig
	hub      *Hub
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	reserved int
	conns    map[*wsConn]struct{}
	wg       sync.WaitGroup
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Hub == nil {
		cfg.Hub = NewHub(HubConfig{Logger: cfg.Logger})
	}
	if cfg.Path == "" {
		cfg.Path = DefaultSignalPath
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = AllowAllAuthorizer{}
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if cfg.SendQueueMessages <= 0 {
		cfg.SendQueueMessages = defaultSendQueueMessages
	}
	if cfg.SendQueueBytes <= 0 {
		cfg.SendQueueBytes = defaultSendQueueBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = min(defaultPingInterval, cfg.IdleTimeout/2)
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{
		cfg:     cfg,
		hub:     cfg.Hub,
		metrics: cfg.Hub.Metrics(),
		log:     log,
		conns:   make(map[*wsConn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin: g.checkOrigin,
	}
	return g
}

func (g *Gateway) Path() string { return g.cfg.Path }

func (g *Gateway) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
	if ok && origin.IsAllowed(normalizedOrigin, originHost, r.Host, g.cfg.AllowedOrigins) {
		return true
	}
	g.metrics.Inc(metrics.UpgradeRejectedOrigin)
	g.log.Warn("rejecting signaling upgrade from disallowed origin", "origin", originHeader, "remote", r.RemoteAddr)
	return false
}

// RejectStrayUpgrades wraps next so that WebSocket upgrade requests for any
// path other than the signal path are dropped: the raw connection is hijacked
// and closed without an HTTP response. Other requests pass through.
//
// It must be the outermost handler so no middleware writes a response first.
func (g *Gateway) RejectStrayUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) || r.URL.Path == g.cfg.Path {
			next.ServeHTTP(w, r)
			return
		}

		g.metrics.Inc(metrics.UpgradeRejectedPath)
		g.log.Debug("dropping upgrade on non-signaling path", "path", r.URL.Path, "remote", r.RemoteAddr)

		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			// Not hijackable (HTTP/2); abort the stream instead.
			panic(http.ErrAbortHandler)
		}
		_ = conn.Close()
	})
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	if err := g.cfg.Authorizer.Authorize(r); err != nil {
		g.metrics.Inc(metrics.AuthFailure)
		if IsUnauthorized(err) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		g.log.Error("signaling authorization failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := g.reserve(); err != nil {
		if errors.Is(err, ErrGatewayClosed) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		g.metrics.Inc(metrics.DropReasonTooManyConns)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	defer g.wg.Done()
	defer g.release()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		return
	}

	wc := newWSConn(conn, g.cfg.SendQueueMessages, g.cfg.SendQueueBytes, g.metrics, g.log)
	if !g.track(wc) {
		wc.closeWith(websocket.CloseGoingAway, "server shutting down")
		wc.shutdown()
		return
	}
	defer g.untrack(wc)

	g.metrics.Inc(metrics.ConnectionOpened)
	g.serveConn(wc, r.RemoteAddr)
	g.metrics.Inc(metrics.ConnectionClosed)
}

func (g *Gateway) serveConn(wc *wsConn, remote string) {
	conn := wc.conn
	conn.SetReadLimit(g.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return wc.extendReadDeadline(g.cfg.IdleTimeout)
	})

	go wc.writeLoop()
	go wc.pingLoop(g.cfg.PingInterval)

	sess := g.hub.Open(wc, remote)
	defer func() {
		g.hub.Close(sess)
		wc.shutdown()
	}()

	limiter := ratelimit.NewTokenBucket(
		g.cfg.Clock,
		int64(g.cfg.MaxMessagesPerSecond),
		int64(g.cfg.MaxMessagesPerSecond),
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				g.log.Debug("signaling message too large", "remote", remote)
			case isTimeout(err):
				g.log.Debug("signaling connection idle", "remote", remote)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				g.log.Debug("signaling connection closed", "remote", remote, "err", err)
			}
			return
		}
		if wc.isClosing() {
			continue
		}
		_ = wc.extendReadDeadline(g.cfg.IdleTimeout)

		// Limit after reading so unread bytes don't turn the close into a RST.
		if !limiter.Allow(1) {
			g.metrics.Inc(metrics.DropReasonRateLimited)
			wc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			continue
		}
		if msgType != websocket.TextMessage {
			wc.closeWith(websocket.CloseUnsupportedData, "expected text message")
			continue
		}

		g.hub.HandleMessage(sess, data)
	}
}

// Close stops accepting upgrades, sends a going-away close to every
// connection, and waits for their close events to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := make([]*wsConn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	g.wg.Wait()
}

// ActiveConnections returns the number of connections currently reserved or
// open.
func (g *Gateway) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

var errTooManyClients = errors.New("too many clients")

func (g *Gateway) reserve() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGatewayClosed
	}
	if g.cfg.MaxClients > 0 && g.reserved >= g.cfg.MaxClients {
		return errTooManyClients
	}
	g.reserved++
	g.wg.Add(1)
	return nil
}

func (g *Gateway) release() {
	g.mu.Lock()
	g.reserved--
	g.mu.Unlock()
}

func (g *Gateway) track(c *wsConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c] = struct{}{}
	return true
}

func (g *Gateway) untrack(c *wsConn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}
