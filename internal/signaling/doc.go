// Package signaling brokers WebRTC session setup between cameras and
// monitors.
//
// Clients connect over a WebSocket, register with a role, and are assigned an
// opaque id. The Router relays offers, answers and ICE candidates between
// registered clients by id without inspecting their payloads; the Notifier
// tells counterparts when a client leaves. Media never passes through here.
package signaling
