package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
)

// Notifier tells counterparts when a registered client goes away and removes
// the client from the registry. Callers must hold the Hub lock.
type Notifier struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// Disconnected handles the close of sess. Sessions that never registered
// produce no notifications.
func (n *Notifier) Disconnected(sess *Session) {
	if !sess.registered {
		return
	}
	n.metrics.Inc(metrics.ClientDisconnected)
	n.log.Info("signaling client disconnected", "client_id", sess.id, "role", sess.role, "remote", sess.remote)
	n.retire(sess)
}

// retire notifies every registered client of the counterpart role that sess
// left, then removes sess from the registry. The notification set is taken
// before removal.
func (n *Notifier) retire(sess *Session) {
	notice := departed(sess.role, sess.id)
	for peer := range n.registry.ListByRole(sess.role.Counterpart()) {
		if deliver(peer.Channel, notice, n.metrics, n.log, peer.ID) {
			n.metrics.Inc(metrics.DisconnectNoticeSent)
		}
	}
	n.registry.Remove(sess.id)
	sess.registered = false
}
