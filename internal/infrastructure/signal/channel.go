package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"
	"sfulink/internal/core/protocol"
	"sfulink/internal/core/services"
	"sfulink/pkg/retry"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenSource returns the sessionToken appended to the dial URL
type TokenSource func() (string, error)

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Redial         retry.Config
	DialRate       float64 // attempts per second
	DialBurst      int
}

// Channel is the client side of the relay signaling connection. It dials on
// Open and keeps redialing until Close. Messages sent while the channel is
// not open are queued and flushed in order before it reports open again.
type Channel struct {
	cfg     Config
	token   TokenSource
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	clock   clock.Clock
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	onOpen    func()
	onClose   func(error)
	onMessage func(*protocol.Message)
	onRTT     func(time.Duration)

	// mu guards state, conn, queue and every write to conn
	mu         sync.Mutex
	state      domain.ChannelState
	conn       *websocket.Conn
	queue      []*protocol.Message
	pingSentAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewChannel(cfg Config, token TokenSource, clk clock.Clock, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 4 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.DialBurst <= 0 {
		cfg.DialBurst = 1
	}
	limit := rate.Inf
	if cfg.DialRate > 0 {
		limit = rate.Limit(cfg.DialRate)
	}
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = services.NopMetrics{}
	}

	return &Channel{
		cfg:   cfg,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		limiter: rate.NewLimiter(limit, cfg.DialBurst),
		clock:   clk,
		metrics: metrics,
		logger:  logger,
		state:   domain.ChannelClosed,
	}
}

func (c *Channel) OnOpen(fn func())                     { c.onOpen = fn }
func (c *Channel) OnClose(fn func(error))               { c.onClose = fn }
func (c *Channel) OnMessage(fn func(*protocol.Message)) { c.onMessage = fn }
func (c *Channel) OnRTT(fn func(time.Duration))         { c.onRTT = fn }

// Open starts the dial loop. Calling it again while running is a no-op.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	if _, err := url.Parse(c.cfg.URL); err != nil || c.cfg.URL == "" {
		return fmt.Errorf("invalid signaling url %q", c.cfg.URL)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = domain.ChannelConnecting
	go c.run(runCtx, c.done)
	return nil
}

// Send writes msg when the channel is open and queues it otherwise. Stop
// messages are dropped while the channel is not open.
func (c *Channel) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.ChannelOpen {
		if msg.IsTeardown() {
			c.logger.Debugw("dropping teardown while channel is down", "stream_id", msg.Target())
			return nil
		}
		c.queue = append(c.queue, msg)
		c.metrics.QueuedMessages(len(c.queue))
		return nil
	}
	return c.write(c.conn, msg)
}

func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Queued returns the number of messages waiting for the channel to open
func (c *Channel) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops the dial loop and closes the connection. Close observers are
// not invoked for a requested close.
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	c.mu.Lock()
	c.state = domain.ChannelClosed
	c.mu.Unlock()
	return nil
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.setState(domain.ChannelConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := retry.Delay(c.cfg.Redial, failures)
			failures++
			c.logger.Warnw("signaling dial failed", "url", c.cfg.URL, "attempt", failures, "retry_in", delay, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(delay):
			}
			continue
		}
		failures = 0

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warnw("signaling connection lost", "error", err)
		if c.onClose != nil {
			c.onClose(err)
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return nil, fmt.Errorf("failed to issue session token: %w", err)
		}
		q := u.Query()
		q.Set("sessionToken", token)
		u.RawQuery = q.Encode()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve flushes the queue, marks the channel open and reads until the
// connection fails or ctx is done.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	if err := c.flush(conn); err != nil {
		return err
	}
	c.logger.Infow("signaling channel open", "url", c.cfg.URL)
	if c.onOpen != nil {
		c.onOpen()
	}

	go c.keepalive(conn, stop)

	defer c.down(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warnw("ignoring signaling frame", "error", err)
			continue
		}
		switch msg.ID {
		case protocol.IDPong:
			c.pong()
		case protocol.IDPing:
		default:
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}
}

// flush drains the queue in FIFO order and opens the channel atomically with
// respect to Send.
func (c *Channel) flush(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) > 0 {
		if err := c.write(conn, c.queue[0]); err != nil {
			return err
		}
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	c.queue = nil
	c.metrics.QueuedMessages(0)

	c.conn = conn
	c.state = domain.ChannelOpen
	return nil
}

func (c *Channel) down(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	c.state = domain.ChannelClosed
	c.pingSentAt = time.Time{}
}

func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := c.clock.Ticker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				c.logger.Debugw("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Channel) ping(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return errors.New("connection replaced")
	}
	c.pingSentAt = c.clock.Now()
	return c.write(conn, protocol.NewPing())
}

func (c *Channel) pong() {
	c.mu.Lock()
	sent := c.pingSentAt
	c.pingSentAt = time.Time{}
	c.mu.Unlock()

	if sent.IsZero() || c.onRTT == nil {
		return
	}
	c.onRTT(c.clock.Since(sent))
}

// write must be called with mu held.
func (c *Channel) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.ID, err)
	}
	return nil
}

func (c *Channel) setState(s domain.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
