package httpserver

import (
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/config"
)

// withTURNRESTCredentials returns a copy of servers where every entry with a
// TURN URL carries the given ephemeral credentials.
func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if iceServerHasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if config.IsTURNURL(url) {
			return true
		}
	}
	return false
}
