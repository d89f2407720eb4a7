// Package socket maintains the bidirectional connection to the workflow
// service. Inbound frames decode into protocol actions and are handed to
// the owning session through callbacks; outbound client events serialize
// through Send. The client owns two timers: an application heartbeat event
// and a protocol-level keepalive ping.
package socket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duoflow/bridge/bridgeerr"
	"github.com/duoflow/bridge/protocol"
	"github.com/duoflow/bridge/telemetry"
)

// Timer and handshake defaults.
const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second

	controlWriteWait = 5 * time.Second
)

type (
	// Callbacks deliver inbound traffic to the session owning the socket.
	// OnAction receives every decoded frame. OnError reports frames that
	// failed to decode; the connection stays up. OnClose fires once when
	// the peer closes or the transport fails, never on local Close.
	Callbacks struct {
		OnAction func(action *protocol.Action)
		OnError  func(err error)
		OnClose  func(code int, reason string)
	}

	// Client is a connected workflow-service socket. Safe for concurrent
	// use; writes serialize internally.
	Client struct {
		connectTimeout time.Duration
		heartbeat      time.Duration
		keepalive      time.Duration
		header         http.Header
		log            telemetry.Logger
		metrics        telemetry.Metrics

		mu     sync.Mutex
		conn   *websocket.Conn
		closed bool
		done   chan struct{}
	}

	// Option configures the client before dialing.
	Option func(*Client)
)

// WithConnectTimeout overrides the handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithHeartbeatInterval overrides the application heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		c.heartbeat = d
	}
}

// WithKeepaliveInterval overrides the protocol ping interval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) {
		c.keepalive = d
	}
}

// WithHeader adds a handshake header.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Add(name, value)
	}
}

// WithHeaders adds a set of handshake headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		for k, v := range headers {
			c.header.Add(k, v)
		}
	}
}

// WithBearerToken sends an Authorization Bearer token on the handshake.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithLogger overrides the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics overrides the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Dial opens a socket to the workflow service and starts the read loop and
// timers. Handshake failures map to CONNECT_TIMEOUT or CONNECT_FAILED.
func Dial(ctx context.Context, url string, cb Callbacks, opts ...Option) (*Client, error) {
	c := &Client{
		connectTimeout: DefaultConnectTimeout,
		heartbeat:      DefaultHeartbeatInterval,
		keepalive:      DefaultKeepaliveInterval,
		log:            telemetry.NewLogger(),
		metrics:        telemetry.NewMetrics(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.connectTimeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, url, c.header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, bridgeerr.Wrap(bridgeerr.KindConnectTimeout, "dial workflow service", err)
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindConnectFailed, "dial workflow service", err)
	}

	c.conn = conn
	go c.readLoop(conn, cb)
	go c.timerLoop()
	c.log.Debug(ctx, "workflow socket connected", "url", url)
	return c, nil
}

// Send encodes a client event onto the socket. Returns false when the
// socket is not open or the write fails.
func (c *Client) Send(event *protocol.ClientEvent) bool {
	data, err := protocol.EncodeClientEvent(event)
	if err != nil {
		c.log.Error(context.Background(), "encode client event", "error", err.Error())
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Debug(context.Background(), "socket write failed", "error", err.Error())
		return false
	}
	c.metrics.IncCounter("bridge_socket_events_sent", 1)
	return true
}

// Open reports whether the socket can accept sends.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close shuts the socket down: stops timers, sends a normal-closure frame
// best-effort and releases the connection. Idempotent. The close callback
// does not fire for local closes.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
		_ = conn.Close()
	}
}

// readLoop decodes inbound frames until the connection dies. Text and
// binary frames both carry UTF-8 JSON.
func (c *Client) readLoop(conn *websocket.Conn, cb Callbacks) {
	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasLocal := c.closed
			if !c.closed {
				c.closed = true
				c.conn = nil
				close(c.done)
			}
			c.mu.Unlock()
			_ = conn.Close()
			if wasLocal {
				return
			}
			code, reason := closeInfo(err)
			c.log.Debug(ctx, "workflow socket closed", "code", code, "reason", reason)
			if cb.OnClose != nil {
				cb.OnClose(code, reason)
			}
			return
		}

		action, err := protocol.DecodeAction(data)
		if err != nil {
			c.metrics.IncCounter("bridge_socket_decode_failures", 1)
			c.log.Warn(ctx, "frame decode failed", "error", err.Error())
			if cb.OnError != nil {
				cb.OnError(err)
			}
			continue
		}
		c.metrics.IncCounter("bridge_socket_actions_received", 1)
		if cb.OnAction != nil {
			cb.OnAction(action)
		}
	}
}

// timerLoop drives the heartbeat event and the keepalive ping until Close.
func (c *Client) timerLoop() {
	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()
	keepalive := time.NewTicker(c.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-heartbeat.C:
			c.Send(&protocol.ClientEvent{Heartbeat: &protocol.Heartbeat{
				Timestamp: time.Now().UnixMilli(),
			}})
		case <-keepalive.C:
			c.ping()
		}
	}
}

// ping sends a protocol-level ping carrying the current time.
func (c *Client) ping() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	payload := strconv.AppendInt(nil, time.Now().UnixMilli(), 10)
	_ = conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(controlWriteWait))
}

// closeInfo extracts the close code and reason from a read error.
func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
