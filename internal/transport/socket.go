package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emocall/internal/domain"
	"emocall/internal/metrics"
)

var (
	ErrMissingURL = errors.New("classifier websocket url is not configured")
	ErrClosed     = errors.New("socket is closed")
)

const (
	DefaultReconnectDelay = 3 * time.Second
	defaultSendQueue      = 32
	defaultDialTimeout    = 10 * time.Second
)

// Config controls the classifier socket.
type Config struct {
	BaseURL        string
	ClientID       string
	ReconnectDelay time.Duration
	SendQueue      int
	DialTimeout    time.Duration
}

// Socket keeps one websocket to the classifier alive, reconnecting after a
// fixed delay until Close. Chunks sent while disconnected are dropped.
type Socket struct {
	cfg      Config
	endpoint string
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *connection
	handler *subscription
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type subscription struct {
	fn func(domain.EmotionFrame)
}

func NewSocket(cfg Config, logger *slog.Logger) (*Socket, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := buildEndpoint(cfg.BaseURL, cfg.ClientID)
	if err != nil {
		return nil, err
	}

	return &Socket{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logger.With("component", "transport", "client_id", cfg.ClientID),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		done:     make(chan struct{}),
	}, nil
}

func (s *Socket) Endpoint() string { return s.endpoint }

func (s *Socket) ClientID() string { return s.cfg.ClientID }

// Connect starts the connection supervisor. Calling it again is a no-op.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	return nil
}

// Send queues one binary frame. It never blocks and never reports failure.
func (s *Socket) Send(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		s.drop("not_open", len(chunk))
		return
	}

	switch err := c.enqueue(append([]byte(nil), chunk...)); {
	case errors.Is(err, errConnClosed):
		s.drop("not_open", len(chunk))
	case errors.Is(err, errQueueFull):
		s.drop("queue_full", len(chunk))
	}
}

// OnMessage installs the single frame handler, replacing any previous one.
// The returned func only removes the handler it installed.
func (s *Socket) OnMessage(handler func(domain.EmotionFrame)) func() {
	sub := &subscription{fn: handler}

	s.mu.Lock()
	s.handler = sub
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.handler == sub {
			s.handler = nil
		}
		s.mu.Unlock()
	}
}

func (s *Socket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close stops reconnecting and tears down the live connection. No handler
// runs after Close returns.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	c := s.conn
	s.mu.Unlock()

	if !started {
		close(s.done)
		return nil
	}

	cancel()
	if c != nil {
		c.shutdown()
	}
	<-s.done
	return nil
}

func (s *Socket) drop(reason string, size int) {
	metrics.ChunksDropped.WithLabelValues(reason).Inc()
	s.logger.Debug("audio chunk dropped", "reason", reason, "bytes", size)
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)
	defer metrics.SocketOpen.Set(0)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("classifier connection lost", "error", err, "retry_in", s.cfg.ReconnectDelay)

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		metrics.Reconnects.Inc()
	}
}

// session dials once and reads until the connection ends.
func (s *Socket) session(ctx context.Context) error {
	ws, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial classifier: %w", err)
	}

	c := newConnection(ws, s.cfg.SendQueue)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.shutdown()
		c.wait()
		return ErrClosed
	}
	s.conn = c
	s.mu.Unlock()
	metrics.SocketOpen.Set(1)
	s.logger.Info("classifier connected", "endpoint", s.endpoint)

	go func() {
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.closed:
		}
	}()

	err = s.readLoop(c)

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
	metrics.SocketOpen.Set(0)

	c.shutdown()
	c.wait()
	if err := c.writeErr(); err != nil {
		s.logger.Warn("classifier write failed", "error", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransportDropped, err)
}

func (s *Socket) readLoop(c *connection) error {
	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			metrics.FramesMalformed.Inc()
			s.logger.Debug("ignoring non-text classifier frame", "type", messageType)
			continue
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			metrics.FramesMalformed.Inc()
			s.logger.Warn("dropping malformed emotion frame", "error", err)
			continue
		}
		metrics.FramesReceived.Inc()
		s.deliver(frame)
	}
}

func (s *Socket) deliver(frame domain.EmotionFrame) {
	s.mu.Lock()
	sub := s.handler
	s.mu.Unlock()
	if sub == nil || sub.fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("emotion handler panicked", "panic", r)
		}
	}()
	sub.fn(frame)
}

// connection is one dialed websocket with its writer goroutine.
type connection struct {
	ws     *websocket.Conn
	out    chan []byte
	closed chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newConnection(ws *websocket.Conn, queue int) *connection {
	c := &connection{
		ws:     ws,
		out:    make(chan []byte, queue),
		closed: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// enqueue hands a chunk to the writer. A closed connection never accepts
// a chunk, even when its queue has room.
func (c *connection) enqueue(chunk []byte) error {
	if c.isClosed() {
		return errConnClosed
	}
	select {
	case c.out <- chunk:
		return nil
	default:
		return errQueueFull
	}
}

func (c *connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// writeLoop counts a chunk as sent only once it is written. Chunks still
// queued at shutdown are counted as dropped.
func (c *connection) writeLoop() {
	defer c.wg.Done()
	defer c.discardQueued()

	for {
		select {
		case <-c.closed:
			return
		case chunk := <-c.out:
			if c.isClosed() {
				metrics.ChunksDropped.WithLabelValues("not_open").Inc()
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				metrics.ChunksDropped.WithLabelValues("write_failed").Inc()
				c.setErr(fmt.Errorf("failed to send audio: %w", err))
				c.shutdown()
				return
			}
			metrics.ChunksSent.Inc()
		}
	}
}

func (c *connection) discardQueued() {
	for {
		select {
		case <-c.out:
			metrics.ChunksDropped.WithLabelValues("not_open").Inc()
		default:
			return
		}
	}
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *connection) wait() {
	c.wg.Wait()
}

func (c *connection) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *connection) writeErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
