// Package webrtcpeer is a Go signaling client for the camera-signal broker.
//
// A Peer registers as a camera or a monitor and negotiates one pion
// PeerConnection per counterpart: cameras answer request-offer with an offer
// carrying a data channel, monitors answer offers. Candidates are trickled
// through the broker. It backs the e2e harness and end-to-end tests; the
// broker itself never uses it.
package webrtcpeer

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the data channel cameras open towards each
// monitor.
const DataChannelLabel = "camera"

type APIConfig struct {
	// Logger receives pion's internal logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Configure, if set, adjusts the SettingEngine before the API is built
	// (e.g. to attach a virtual network).
	Configure func(se *webrtc.SettingEngine)
}

func NewAPI(cfg APIConfig) *webrtc.API {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewSlogLoggerFactory(cfg.Logger)
	if cfg.Configure != nil {
		cfg.Configure(&se)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
