package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
)

// Session is the signaling state of one connection:
// Unregistered -> Registered -> Closed. Closed is terminal.
//
// All fields are guarded by the owning Hub's lock.
type Session struct {
	hub    *Hub
	ch     Channel
	remote string

	id         string
	role       Role
	registered bool
	closed     bool
}

// ID returns the id assigned by the most recent register, or "" if the
// session never registered or has been closed.
func (s *Session) ID() string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if !s.registered {
		return ""
	}
	return s.id
}

func (s *Session) Role() Role {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.role
}

type HubConfig struct {
	// Registry is shared with callers that only read from it (metrics). If nil,
	// a fresh registry is created.
	Registry *Registry
	IDs      *IdentityGenerator
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Hub serializes every register, route and close event across all
// connections. Within one event the Router and Notifier see a registry that
// no other event can modify.
type Hub struct {
	mu sync.Mutex

	registry *Registry
	router   *Router
	notifier *Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewHub(cfg HubConfig) *Hub {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewIdentityGenerator()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	notifier := &Notifier{registry: reg, metrics: m, log: log}
	return &Hub{
		registry: reg,
		router: &Router{
			registry: reg,
			ids:      ids,
			notifier: notifier,
			metrics:  m,
			log:      log,
		},
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Open starts tracking a new, unregistered connection. remote is only used in
// log lines.
func (h *Hub) Open(ch Channel, remote string) *Session {
	return &Session{hub: h, ch: ch, remote: remote}
}

// HandleMessage parses one inbound frame and dispatches it. Malformed frames
// are logged and counted; nothing is sent back.
func (h *Hub) HandleMessage(sess *Session, data []byte) {
	msg, err := ParseInbound(data)

	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.closed {
		h.metrics.Inc(metrics.MessageAfterClose)
		return
	}
	if err != nil {
		h.metrics.Inc(metrics.MalformedMessage)
		h.log.Warn("dropping malformed signaling message", "remote", sess.remote, "client_id", sess.id, "err", err)
		return
	}
	h.router.Dispatch(sess, msg)
}

// Close runs the disconnect path for sess. It is idempotent.
func (h *Hub) Close(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.closed {
		return
	}
	sess.closed = true
	h.notifier.Disconnected(sess)
}

// deliver sends msg on ch, counting and logging failures. It reports whether
// the message was accepted for delivery.
func deliver(ch Channel, msg Outbound, m *metrics.Metrics, log *slog.Logger, to string) bool {
	if err := ch.Send(msg); err != nil {
		m.Inc(metrics.SendFailed)
		level := slog.LevelDebug
		if !errors.Is(err, errSendQueueClosed) && !errors.Is(err, errSendQueueFull) {
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "signaling send failed", "type", msg.outboundType(), "client_id", to, "err", err)
		return false
	}
	return true
}

// burstSender is implemented by channels that can take a batch of
// server-generated frames outside their slow-consumer bounds.
type burstSender interface {
	SendBurst(msgs []Outbound) error
}

// deliverBurst sends msgs to one client in order. Channels without SendBurst
// get one Send per message. It reports whether every message was accepted.
func deliverBurst(ch Channel, msgs []Outbound, m *metrics.Metrics, log *slog.Logger, to string) bool {
	bs, ok := ch.(burstSender)
	if !ok {
		for _, msg := range msgs {
			if !deliver(ch, msg, m, log, to) {
				return false
			}
		}
		return true
	}
	if err := bs.SendBurst(msgs); err != nil {
		m.Inc(metrics.SendFailed)
		log.Debug("signaling burst send failed", "client_id", to, "messages", len(msgs), "err", err)
		return false
	}
	return true
}
