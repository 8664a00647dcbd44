package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/spooky-finn/go-marketstream-sync/domain"
	"github.com/spooky-finn/go-marketstream-sync/helpers"
)

const closeWriteWait = time.Second

// Handler receives the frames and lifecycle changes of a StreamClient. All
// calls come from the client's connection goroutine, in order.
type Handler interface {
	OnConnected()
	OnFrame(frame []byte)
	// OnDisconnected reports a lost connection. The error wraps
	// domain.ErrRateLimited or domain.ErrReconnectLimit when the client stops.
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

type ClientOptions struct {
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	// Redials after a lost connection before giving up. Zero retries forever.
	MaxReconnectAttempts int
}

// StreamClient is a reconnecting websocket connection to the venue stream.
// One goroutine owns dialing and reading; Reconnect only closes the socket
// and lets that goroutine notice.
type StreamClient struct {
	url     string
	opts    ClientOptions
	dialer  *websocket.Dialer
	handler Handler

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreamClient(url string, opts ClientOptions, handler Handler) *StreamClient {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = opts.ReconnectMin
	}

	return &StreamClient{
		url:     url,
		opts:    opts,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Connect starts dialing in the background. OnConnected fires after every
// successful (re)connect, before any frame of that connection is delivered.
func (c *StreamClient) Connect(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *StreamClient) run(ctx context.Context) {
	defer c.wg.Done()

	b := &backoff.Backoff{
		Min:    c.opts.ReconnectMin,
		Max:    c.opts.ReconnectMax,
		Factor: 2,
		Jitter: true,
	}
	attempt := 0

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			logger.WithError(err).WithField("url", c.url).Warn("failed to dial the stream websocket")
		} else {
			attempt = 0
			b.Reset()

			err = c.serve(conn)
			if ctx.Err() != nil {
				return
			}

			err = classifyReadError(err)
			c.handler.OnDisconnected(err)

			if errors.Is(err, domain.ErrRateLimited) {
				logger.WithError(err).Error("rate limited by server, not reconnecting")
				return
			}
			logger.WithError(err).Warn("stream connection lost")
		}

		if c.opts.MaxReconnectAttempts > 0 && attempt >= c.opts.MaxReconnectAttempts {
			err := fmt.Errorf("%w (%d)", domain.ErrReconnectLimit, attempt)
			logger.Error(err)
			c.handler.OnDisconnected(err)
			return
		}

		attempt++
		wait := b.Duration()
		logger.WithField("attempt", attempt).Infof("reconnecting in %s", wait)
		c.handler.OnReconnecting(attempt)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// serve publishes conn, reads until it fails and returns the read error.
func (c *StreamClient) serve(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	logger.WithField("url", c.url).Info("connected to the stream websocket")
	c.handler.OnConnected()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handler.OnFrame(frame)
	}
}

// classifyReadError maps a close frame with policy violation (1008) to ErrRateLimited.
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}

	return err
}

func (c *StreamClient) Send(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrNotConnected
	}

	logger.Debugf("sending %s", helpers.ToJsonString(req))

	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send %s request: %w", req.Method, err)
	}

	return nil
}

// Reconnect drops the current connection; the read error drives one redial.
func (c *StreamClient) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	logger.Warn("forcing stream reconnect")
	c.conn.Close()
}

func (c *StreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close sends a normal closure, stops redialing and waits for the connection goroutine.
func (c *StreamClient) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// DisconnectReason is the human readable reason of a lost connection.
func DisconnectReason(err error) string {
	if errors.Is(err, domain.ErrReconnectLimit) {
		return domain.ErrReconnectLimit.Error()
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Text != "" {
		return closeErr.Text
	}

	return "connection closed"
}
