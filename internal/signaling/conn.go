package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/camera-signal/internal/metrics"
)

const (
	wsWriteWait = 5 * time.Second

	// closeGrace bounds how long the read loop waits for the peer to answer a
	// server-initiated close frame.
	closeGrace = 2 * time.Second
)

// wsConn is the Channel for one WebSocket. Outbound frames go through a
// bounded queue drained by writeLoop, which is the only goroutine that writes
// data frames. Control frames (ping, close) use WriteControl, which gorilla
// allows concurrently with the writer.
type wsConn struct {
	conn    *websocket.Conn
	queue   *sendQueue
	metrics *metrics.Metrics
	log     *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closing   sync.Once
	draining  atomic.Bool

	// deadlineMu orders read deadline changes against the start of a close,
	// so the grace deadline is never replaced by an idle extension.
	deadlineMu sync.Mutex
}

func newWSConn(conn *websocket.Conn, queueMessages, queueBytes int, m *metrics.Metrics, log *slog.Logger) *wsConn {
	return &wsConn{
		conn:    conn,
		queue:   newSendQueue(queueMessages, queueBytes),
		metrics: m,
		log:     log,
		done:    make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Outbound) error {
	data, err := EncodeOutbound(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.outboundType(), err)
	}
	if err := c.queue.Enqueue(data); err != nil {
		if errors.Is(err, errSendQueueFull) {
			c.metrics.Inc(metrics.SendQueueOverflow)
			// Send is called with the Hub lock held; the close path must not
			// block it.
			go c.closeWith(websocket.ClosePolicyViolation, "send queue overflow")
		}
		return err
	}
	return nil
}

// SendBurst queues msgs in order without applying the slow-consumer bounds.
func (c *wsConn) SendBurst(msgs []Outbound) error {
	frames := make([][]byte, 0, len(msgs))
	for _, msg := range msgs {
		data, err := EncodeOutbound(msg)
		if err != nil {
			return fmt.Errorf("encode %s: %w", msg.outboundType(), err)
		}
		frames = append(frames, data)
	}
	return c.queue.EnqueueBurst(frames)
}

func (c *wsConn) writeLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("signaling write failed", "remote", c.conn.RemoteAddr().String(), "err", err)
			c.shutdown()
			return
		}
	}
}

func (c *wsConn) pingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// closeWith starts the closing handshake. The read loop observes the peer's
// reply (or the grace deadline) and runs the normal close path.
func (c *wsConn) closeWith(code int, reason string) {
	c.closing.Do(func() {
		c.deadlineMu.Lock()
		c.draining.Store(true)
		_ = c.conn.SetReadDeadline(time.Now().Add(wsWriteWait + closeGrace))
		c.deadlineMu.Unlock()

		c.queue.Close()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))

		c.deadlineMu.Lock()
		_ = c.conn.SetReadDeadline(time.Now().Add(closeGrace))
		c.deadlineMu.Unlock()
	})
}

// isClosing reports whether a server-initiated close is in progress. Frames
// read after that point are discarded.
func (c *wsConn) isClosing() bool {
	return c.draining.Load()
}

// extendReadDeadline pushes the idle deadline out unless the connection is
// already closing.
func (c *wsConn) extendReadDeadline(idle time.Duration) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.isClosing() {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(idle))
}

// shutdown releases the connection. Safe to call more than once.
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		_ = c.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
