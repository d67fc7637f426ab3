package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens sockets with gorilla/websocket.
type WebSocketDialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer using the timeouts in cfg.
func NewWebSocketDialer(cfg Config, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{cfg: cfg, logger: logger}
}

// Dial starts opening a socket and returns immediately.
func (d *WebSocketDialer) Dial(ctx context.Context, req DialRequest, sink Sink) Socket {
	queue := d.cfg.SendQueueSize
	if queue < 1 {
		queue = 1
	}
	s := &wsSocket{
		cfg:    d.cfg,
		logger: d.logger,
		sink:   sink,
		send:   make(chan outFrame, queue),
		done:   make(chan struct{}),
	}
	go s.open(ctx, req)
	return s
}

type outFrame struct {
	kind int
	data []byte
}

// wsSocket is one WebSocket connection.
type wsSocket struct {
	cfg    Config
	logger *slog.Logger
	sink   Sink

	send chan outFrame
	done chan struct{}

	teardownOnce sync.Once
	terminalOnce sync.Once

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.RWMutex
	conn        *websocket.Conn
	dialCancel  context.CancelFunc
	connected   bool
	closing     bool
	closeCode   int
	closeReason string
	failErr     error
	lastPingAt  time.Time
}

// open dials, reports the result and then runs the read loop.
func (s *wsSocket) open(ctx context.Context, req DialRequest) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(dialCtx, req.ConnectTimeout)
		defer cancel()
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.terminate(nil)
		return
	}
	s.dialCancel = cancel
	s.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: req.ConnectTimeout,
	}

	conn, resp, err := dialer.DialContext(dialCtx, req.Address, req.Header.Clone())
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: %w (status %d)", req.Address, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("dial %s: %w", req.Address, err)
		}
		s.terminate(err)
		return
	}

	s.mu.Lock()
	if s.closing {
		// Close was called while the handshake was in flight.
		s.mu.Unlock()
		conn.Close()
		s.terminate(nil)
		return
	}
	s.conn = conn
	s.connected = true
	s.lastPingAt = time.Now()
	s.mu.Unlock()

	// Set up ping handler - server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		s.touch()
		err := conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// Set up pong handler - server responds to our ping
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	s.logger.Debug("websocket connected", "address", req.Address)
	s.sink.OnOpen(s)

	go s.writeLoop()
	if s.cfg.PingInterval > 0 {
		go s.heartbeatLoop()
	}

	s.readLoop()
}

// Send enqueues a text frame.
func (s *wsSocket) Send(text string) bool {
	return s.enqueue(outFrame{kind: websocket.TextMessage, data: []byte(text)})
}

// SendBinary enqueues a binary frame.
func (s *wsSocket) SendBinary(data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	return s.enqueue(outFrame{kind: websocket.BinaryMessage, data: buf})
}

func (s *wsSocket) enqueue(f outFrame) bool {
	s.mu.RLock()
	ok := s.connected && !s.closing
	s.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- f:
		return true
	default:
		s.logger.Warn("send queue full, dropping frame", "size", len(f.data))
		return false
	}
}

// Close writes a close frame and drops the socket once the peer answers
// or the grace period elapses.
func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	cancelDial := s.dialCancel
	s.mu.Unlock()

	if conn == nil {
		// Still dialing; open() reports the terminal event.
		if cancelDial != nil {
			cancelDial()
		}
		return nil
	}

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeTimeout()),
	)
	if err != nil {
		s.teardown()
		return fmt.Errorf("write close frame: %w", err)
	}

	grace := s.cfg.CloseGracePeriod
	if grace <= 0 {
		grace = time.Second
	}
	time.AfterFunc(grace, s.teardown)
	return nil
}

// touch records liveness from the peer.
func (s *wsSocket) touch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// fail records err as the reason for termination and drops the socket;
// the read loop then reports it.
func (s *wsSocket) fail(err error) {
	s.mu.Lock()
	if s.failErr == nil && !s.closing {
		s.failErr = err
	}
	s.mu.Unlock()
	s.teardown()
}

// teardown stops the loops and closes the underlying connection.
func (s *wsSocket) teardown() {
	s.teardownOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.connected = false
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
	})
}

// terminate reports the single terminal event for this socket.
func (s *wsSocket) terminate(err error) {
	s.terminalOnce.Do(func() {
		s.teardown()

		s.mu.RLock()
		closing := s.closing
		code, reason := s.closeCode, s.closeReason
		s.mu.RUnlock()

		if closing {
			s.sink.OnClosed(s, code, reason)
			return
		}
		s.sink.OnFailure(s, err)
	})
}

// readLoop delivers inbound frames until the connection ends.
func (s *wsSocket) readLoop() {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		switch kind {
		case websocket.TextMessage:
			s.sink.OnText(s, string(data))
		case websocket.BinaryMessage:
			s.sink.OnBinary(s, data)
		}
	}
}

// finish maps the read loop's exit error to transport events.
func (s *wsSocket) finish(err error) {
	// 1006 is synthesized locally when the stream ends without a close
	// frame; that is a failure, not a close.
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		s.terminalOnce.Do(func() {
			s.sink.OnClosing(s, ce.Code, ce.Text)
			s.teardown()
			s.sink.OnClosed(s, ce.Code, ce.Text)
		})
		return
	}

	s.mu.RLock()
	if s.failErr != nil {
		err = s.failErr
	}
	s.mu.RUnlock()

	s.terminate(err)
}

// writeLoop drains the send queue onto the connection.
func (s *wsSocket) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			err := s.conn.WriteMessage(f.kind, f.data)
			s.writeMu.Unlock()

			if err != nil {
				s.logger.Debug("write failed", "error", err)
				s.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// heartbeatLoop pings the peer and monitors for stale connections.
func (s *wsSocket) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.writeTimeout())
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			if s.cfg.PingTimeout <= 0 {
				continue
			}

			s.mu.RLock()
			lastPing := s.lastPingAt
			s.mu.RUnlock()

			if time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				s.fail(ErrStaleConnection)
				return
			}
		}
	}
}

func (s *wsSocket) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 5 * time.Second
}
