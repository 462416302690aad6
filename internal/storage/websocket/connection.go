package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/copterviz/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	defaultQueueSize = 256
	ackChSize        = 16
	maxReconnect     = 10
	maxBackoff       = 30 * time.Second
	writeWait        = 10 * time.Second
	ackTimeout       = 10 * time.Second
)

var (
	errFrameDropped = errors.New("viewer queue full, frame dropped")
	errClosed       = errors.New("viewer connection closed")
)

// batch is what the write loop sends in one go: every envelope of one frame,
// or a single session message. seq is 0 for session messages.
type batch struct {
	seq      uint64
	messages [][]byte
}

// encodeEnvelope frames a payload as an Envelope of the given type.
func encodeEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// connection is the viewer link. One write goroutine drains the batch queue.
// Frames are dropped whole when the queue is full since the next frame
// supersedes them; session messages wait for room instead.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	queue  chan batch
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL  string
	secret string

	// start_session of the open session, replayed after a reconnect.
	startMsg []byte

	dropped atomic.Uint64

	logger *slog.Logger
}

func newConnection(queueSize int, logger *slog.Logger) *connection {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &connection{
		queue:  make(chan batch, queueSize),
		ackCh:  make(chan streaming.AckMessage, ackChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// dial connects to the viewer and starts the read and write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	return nil
}

// dialOnce performs a single dial with the secret as query parameter.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func writeMessage(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop sends queued batches. A write error abandons the rest of the
// batch and hands over to reconnect, which starts a new loop.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.queue:
			conn := c.current()
			if conn == nil {
				continue
			}
			for i, data := range b.messages {
				if err := writeMessage(conn, data); err != nil {
					c.logger.Warn("Viewer write failed", "frame", b.seq,
						"sent", i, "of", len(b.messages), "error", err)
					go c.reconnect()
					return
				}
			}
		}
	}
}

// readLoop routes acks from the viewer to ackCh.
func (c *connection) readLoop() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("Viewer read failed", "error", err)
			go c.reconnect()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Ignoring viewer message", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect redials with exponential backoff, replays start_session and
// restarts both loops. Frames still queued are sent after the replay.
func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Viewer reconnect failed", "attempt", attempt, "backoff", backoff, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		start := c.startMsg
		c.mu.Unlock()
		if start != nil {
			if err := writeMessage(conn, start); err != nil {
				c.logger.Warn("Failed to replay start_session", "attempt", attempt, "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("Viewer reconnected", "attempt", attempt, "replayedStart", start != nil)
		go c.writeLoop()
		go c.readLoop()
		return
	}

	c.logger.Error("Giving up on viewer connection", "attempts", maxReconnect)
}

// sendFrame queues all envelopes of frame seq. It never blocks.
func (c *connection) sendFrame(seq uint64, messages [][]byte) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.queue <- batch{seq: seq, messages: messages}:
		return nil
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("Viewer queue full, dropping frame", "frame", seq, "droppedTotal", n)
		return fmt.Errorf("frame %d: %w", seq, errFrameDropped)
	}
}

// request queues a session message, waiting up to timeout for room, then
// waits for the viewer's ack of ackFor.
func (c *connection) request(data []byte, ackFor string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.queue <- batch{messages: [][]byte{data}}:
	case <-timer.C:
		return fmt.Errorf("timeout queueing %q", ackFor)
	case <-c.done:
		return fmt.Errorf("%w before %q was queued", errClosed, ackFor)
	}

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("%w while waiting for ack of %q", errClosed, ackFor)
		}
	}
}

// setStart caches start_session for replay; nil clears it.
func (c *connection) setStart(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startMsg = data
}

// droppedFrames returns how many frames were dropped on a full queue.
func (c *connection) droppedFrames() uint64 {
	return c.dropped.Load()
}

// close sends a close frame and stops both loops.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	// WriteControl is safe alongside the write loop.
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}
