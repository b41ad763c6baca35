package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
)

const (
	defaultCameraName  = "Unnamed Camera"
	defaultMonitorName = "Unnamed Monitor"
)

func defaultDisplayName(role Role) string {
	if role == RoleCamera {
		return defaultCameraName
	}
	return defaultMonitorName
}

// Router applies one inbound message to the registry. Callers must hold the
// Hub lock.
type Router struct {
	registry *Registry
	ids      *IdentityGenerator
	notifier *Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func (r *Router) Dispatch(sess *Session, msg Inbound) {
	switch msg := msg.(type) {
	case RegisterMessage:
		r.register(sess, msg)
	case OfferMessage:
		r.forward(msg.inboundType(), msg.TargetID, msg.forward())
	case AnswerMessage:
		r.forward(msg.inboundType(), msg.TargetID, msg.forward())
	case CandidateMessage:
		r.forward(msg.inboundType(), msg.TargetID, msg.forward())
	case UnknownMessage:
		r.metrics.Inc(metrics.UnknownMessageType)
		r.log.Debug("ignoring unknown signaling message type", "type", msg.Type, "remote", sess.remote)
	}
}

func (r *Router) register(sess *Session, msg RegisterMessage) {
	if sess.registered {
		// The old identity leaves exactly as if the connection had closed.
		r.notifier.retire(sess)
		r.metrics.Inc(metrics.ClientReregistered)
	}

	name := msg.Name
	if name == "" {
		name = defaultDisplayName(msg.Role)
	}

	id := r.ids.Next(r.registry.Contains)
	if err := r.registry.Insert(id, msg.Role, name, sess.ch); err != nil {
		r.metrics.Inc(metrics.DuplicateClientID)
		r.log.Error("failed to register signaling client", "remote", sess.remote, "client_id", id, "err", err)
		return
	}
	sess.id = id
	sess.role = msg.Role
	sess.registered = true

	r.metrics.Inc(metrics.ClientRegistered)
	r.log.Info("signaling client registered", "client_id", id, "role", msg.Role, "name", name, "remote", sess.remote)

	switch msg.Role {
	case RoleMonitor:
		deliver(sess.ch, registered(id), r.metrics, r.log, id)
		for camera := range r.registry.ListByRole(RoleCamera) {
			if deliver(camera.Channel, requestOffer(id), r.metrics, r.log, camera.ID) {
				r.metrics.Inc(metrics.RequestOfferSent)
			}
		}
	case RoleCamera:
		// One request-offer per monitor, queued together with registered. The
		// batch grows with the monitor count, so it bypasses the queue bounds.
		reply := []Outbound{registered(id)}
		for monitor := range r.registry.ListByRole(RoleMonitor) {
			reply = append(reply, requestOffer(monitor.ID))
		}
		if deliverBurst(sess.ch, reply, r.metrics, r.log, id) {
			r.metrics.Add(metrics.RequestOfferSent, uint64(len(reply)-1))
		}
	}
}

// forward relays out to targetID. Unknown targets are dropped silently.
func (r *Router) forward(kind MessageType, targetID string, out Outbound) {
	target, ok := r.registry.Get(targetID)
	if !ok {
		r.metrics.Inc(metrics.RoutingMiss)
		r.log.Debug("signaling target not registered", "type", kind, "target_id", targetID)
		return
	}
	if deliver(target.Channel, out, r.metrics, r.log, target.ID) {
		r.metrics.Inc(metrics.MessageForwarded)
	}
}
