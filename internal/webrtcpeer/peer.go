package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/signaling"
)

const (
	registerTimeout = 10 * time.Second
	writeWait       = 5 * time.Second

	// maxPendingCandidates bounds candidates buffered for a counterpart whose
	// description has not been applied yet.
	maxPendingCandidates = 64
)

var (
	ErrNotRegistered = errors.New("broker did not acknowledge registration")
	errNoOffer       = errors.New("no offer outstanding for counterpart")
)

type Config struct {
	// URL is the broker's signal endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL    string
	Header http.Header

	Role signaling.Role
	Name string

	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	// OnDataChannel is called once per negotiated counterpart with the data
	// channel to it: the one a camera opened, or the one a monitor received.
	// It runs on a pion goroutine.
	OnDataChannel func(remoteID string, dc *webrtc.DataChannel)

	Logger *slog.Logger
}

// wireMessage covers every frame in both directions.
type wireMessage struct {
	Type signaling.MessageType `json:"type"`

	Role signaling.Role `json:"role,omitempty"`
	Name string         `json:"name,omitempty"`

	ID        string `json:"id,omitempty"`
	MonitorID string `json:"monitorId,omitempty"`
	CameraID  string `json:"cameraId,omitempty"`

	TargetID   string `json:"targetId,omitempty"`
	FromID     string `json:"fromId,omitempty"`
	CameraName string `json:"cameraName,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type remote struct {
	pc        *webrtc.PeerConnection
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// Peer is one registered signaling client plus its PeerConnections, keyed by
// counterpart id.
type Peer struct {
	cfg  Config
	log  *slog.Logger
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex

	mu        sync.Mutex
	remotes   map[string]*remote
	closed    bool
	closeOnce sync.Once
}

// Dial connects to the broker and registers. It returns once the broker has
// assigned an id; call Run to start negotiating.
func Dial(ctx context.Context, cfg Config) (*Peer, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.API == nil {
		cfg.API = NewAPI(APIConfig{Logger: log})
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	p := &Peer{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		remotes: make(map[string]*remote),
	}
	if err := p.send(wireMessage{Type: signaling.MessageTypeRegister, Role: cfg.Role, Name: cfg.Name}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(registerTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await registered: %w", err)
	}
	if msg.Type != signaling.MessageTypeRegistered || msg.ID == "" {
		_ = conn.Close()
		return nil, ErrNotRegistered
	}
	_ = conn.SetReadDeadline(time.Time{})

	p.id = msg.ID
	p.log = log.With("client_id", p.id, "role", cfg.Role)
	return p, nil
}

func (p *Peer) ID() string { return p.id }

// Remotes returns the ids of counterparts with a live PeerConnection.
func (p *Peer) Remotes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.remotes))
	for id, r := range p.remotes {
		if r.pc != nil {
			out = append(out, id)
		}
	}
	return out
}

// Run processes broker messages until ctx is done, the broker closes the
// connection, or Close is called. It returns nil after Close.
func (p *Peer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	for {
		var msg wireMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.isClosed() {
				return nil
			}
			return err
		}
		if err := p.handle(msg); err != nil {
			p.log.Warn("signaling step failed", "type", msg.Type, "from_id", msg.FromID, "err", err)
		}
	}
}

func (p *Peer) handle(msg wireMessage) error {
	switch msg.Type {
	case signaling.MessageTypeRequestOffer:
		return p.offerTo(msg.MonitorID)
	case signaling.MessageTypeOffer:
		return p.answerOffer(msg.FromID, msg.Offer)
	case signaling.MessageTypeAnswer:
		return p.applyAnswer(msg.FromID, msg.Answer)
	case signaling.MessageTypeICECandidate:
		return p.addCandidate(msg.FromID, msg.Candidate)
	case signaling.MessageTypeCameraDisconnected:
		p.drop(msg.CameraID)
	case signaling.MessageTypeMonitorDisconnected:
		p.drop(msg.MonitorID)
	}
	return nil
}

func (p *Peer) offerTo(monitorID string) error {
	if monitorID == "" {
		return errors.New("request-offer without monitorId")
	}
	pc, err := p.newPeerConnection(monitorID)
	if err != nil {
		return err
	}
	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	if p.cfg.OnDataChannel != nil {
		p.cfg.OnDataChannel(monitorID, dc)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return p.send(wireMessage{
		Type:       signaling.MessageTypeOffer,
		TargetID:   monitorID,
		FromID:     p.id,
		CameraName: p.cfg.Name,
		Offer:      &offer,
	})
}

func (p *Peer) answerOffer(cameraID string, offer *webrtc.SessionDescription) error {
	if cameraID == "" || offer == nil {
		return errors.New("offer without fromId or description")
	}
	pc, err := p.newPeerConnection(cameraID)
	if err != nil {
		return err
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		if p.cfg.OnDataChannel != nil {
			p.cfg.OnDataChannel(cameraID, dc)
		}
	})

	if err := pc.SetRemoteDescription(*offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	if err := p.flushCandidates(cameraID); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return p.send(wireMessage{
		Type:     signaling.MessageTypeAnswer,
		TargetID: cameraID,
		FromID:   p.id,
		Answer:   &answer,
	})
}

func (p *Peer) applyAnswer(monitorID string, answer *webrtc.SessionDescription) error {
	if answer == nil {
		return errors.New("answer without description")
	}
	p.mu.Lock()
	r := p.remotes[monitorID]
	p.mu.Unlock()
	if r == nil || r.pc == nil {
		return errNoOffer
	}
	if err := r.pc.SetRemoteDescription(*answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return p.flushCandidates(monitorID)
}

// addCandidate applies a trickled candidate, or buffers it until the
// counterpart's description is in place.
func (p *Peer) addCandidate(fromID string, c *webrtc.ICECandidateInit) error {
	if fromID == "" || c == nil {
		return errors.New("ice-candidate without fromId or candidate")
	}
	p.mu.Lock()
	r := p.remotes[fromID]
	if r == nil {
		r = &remote{}
		p.remotes[fromID] = r
	}
	if r.pc == nil || !r.remoteSet {
		if len(r.pending) < maxPendingCandidates {
			r.pending = append(r.pending, *c)
		}
		p.mu.Unlock()
		return nil
	}
	pc := r.pc
	p.mu.Unlock()

	if err := pc.AddICECandidate(*c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *Peer) flushCandidates(remoteID string) error {
	p.mu.Lock()
	r := p.remotes[remoteID]
	if r == nil || r.pc == nil {
		p.mu.Unlock()
		return nil
	}
	r.remoteSet = true
	pending := r.pending
	r.pending = nil
	pc := r.pc
	p.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate: %w", err)
		}
	}
	return nil
}

// newPeerConnection creates the connection to remoteID, replacing any
// previous one. Candidates buffered before the first description are kept.
func (p *Peer) newPeerConnection(remoteID string) (*webrtc.PeerConnection, error) {
	pc, err := p.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: p.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := p.send(wireMessage{
			Type:      signaling.MessageTypeICECandidate,
			TargetID:  remoteID,
			FromID:    p.id,
			Candidate: &init,
		}); err != nil {
			p.log.Debug("failed to send candidate", "target_id", remoteID, "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "remote_id", remoteID, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			go p.dropConn(remoteID, pc)
		}
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = pc.Close()
		return nil, net.ErrClosed
	}
	old := p.remotes[remoteID]
	r := &remote{pc: pc}
	if old != nil && old.pc == nil {
		r.pending = old.pending
	}
	p.remotes[remoteID] = r
	p.mu.Unlock()

	if old != nil && old.pc != nil {
		_ = old.pc.Close()
	}
	return pc, nil
}

// drop closes the connection to a counterpart that left the broker.
func (p *Peer) drop(remoteID string) {
	p.mu.Lock()
	r := p.remotes[remoteID]
	delete(p.remotes, remoteID)
	p.mu.Unlock()
	if r != nil && r.pc != nil {
		_ = r.pc.Close()
	}
}

// dropConn is drop limited to a specific PeerConnection, so a failed old
// connection cannot tear down its replacement.
func (p *Peer) dropConn(remoteID string, pc *webrtc.PeerConnection) {
	p.mu.Lock()
	if r := p.remotes[remoteID]; r != nil && r.pc == pc {
		delete(p.remotes, remoteID)
	}
	p.mu.Unlock()
	_ = pc.Close()
}

func (p *Peer) send(msg wireMessage) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(msg)
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close tears down every PeerConnection and leaves the broker.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		remotes := p.remotes
		p.remotes = make(map[string]*remote)
		p.mu.Unlock()

		for _, r := range remotes {
			if r.pc != nil {
				_ = r.pc.Close()
			}
		}
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = p.conn.Close()
	})
	return err
}
