package metrics

import "sync"

// Event names. They are exported through PrometheusHandler as the `event`
// label of a single counter family.
const (
	ClientRegistered   = "client_registered"
	ClientReregistered = "client_reregistered"
	ClientDisconnected = "client_disconnected"
	DuplicateClientID  = "duplicate_client_id"

	RequestOfferSent       = "request_offer_sent"
	DisconnectNoticeSent   = "disconnect_notice_sent"
	MessageForwarded       = "message_forwarded"
	RoutingMiss            = "routing_miss"
	MalformedMessage       = "malformed_message"
	UnknownMessageType     = "unknown_message_type"
	MessageAfterClose      = "message_after_close"
	SendFailed             = "send_failed"
	SendQueueOverflow      = "send_queue_overflow"
	ConnectionOpened       = "connection_opened"
	ConnectionClosed       = "connection_closed"
	UpgradeRejectedPath    = "upgrade_rejected_path"
	UpgradeRejectedOrigin  = "upgrade_rejected_origin"
	AuthFailure            = "auth_failure"
	DropReasonRateLimited  = "rate_limited"
	DropReasonTooManyConns = "too_many_connections"
)

// Metrics is a concurrency-safe counter registry. The zero value is ready to
// use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
