// Package wsocket maintains the bidirectional socket to the Service:
// connect-with-timeout, heartbeat and keepalive timers, and frame
// decoding. To keep the session/socket relationship acyclic, the client
// never calls back into its owner directly — it emits typed events on
// channels the owner drains.
package wsocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
)

// Defaults for connect/heartbeat/keepalive timing.
const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultKeepaliveInterval = 45 * time.Second
)

// Frame is a decoded inbound message. Err is set when the raw frame
// failed to parse as JSON; Data is nil in that case.
type Frame struct {
	Data map[string]any
	Err  error
}

// CloseInfo describes why the socket closed.
type CloseInfo struct {
	Code   int
	Reason string
}

// Client wraps a single client-side websocket connection.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	keepaliveInterval time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{}

	frames chan Frame
	closed chan CloseInfo

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHeader sets request headers sent on the dial handshake (e.g.
// bearer auth).
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

// WithKeepaliveInterval overrides DefaultKeepaliveInterval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) { c.keepaliveInterval = d }
}

// New creates an unconnected Client for url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:               url,
		dialer:            websocket.DefaultDialer,
		connectTimeout:    DefaultConnectTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		keepaliveInterval: DefaultKeepaliveInterval,
		frames:            make(chan Frame, 16),
		closed:            make(chan CloseInfo, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Frames returns the channel of decoded inbound frames.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Closed returns a channel that receives one CloseInfo when the
// connection ends. The channel itself is never closed.
func (c *Client) Closed() <-chan CloseInfo { return c.closed }

// Connect dials the socket, bounded by the configured connect timeout,
// and starts the read loop plus heartbeat/keepalive timers.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	go c.readLoop(conn, stop)
	go c.heartbeatLoop(stop)
	go c.keepaliveLoop(stop)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			c.teardown(stop)
			c.emitClose(code, reason)
			return
		}

		var decoded map[string]any
		if jsonErr := json.Unmarshal(data, &decoded); jsonErr != nil {
			select {
			case c.frames <- Frame{Err: jsonErr}:
			case <-stop:
				return
			}
			continue
		}
		select {
		case c.frames <- Frame{Data: decoded}:
		case <-stop:
			return
		}
	}
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Send(map[string]any{"heartbeat": map[string]any{"timestamp": time.Now().Unix()}})
		case <-stop:
			return
		}
	}
}

func (c *Client) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				payload, _ := json.Marshal(map[string]any{"now": time.Now().Unix()})
				_ = conn.WriteMessage(websocket.PingMessage, payload)
			}
		case <-stop:
			return
		}
	}
}

// Send encodes event as JSON and writes it as a text frame. Returns
// false if the socket is not currently open.
func (c *Client) Send(event any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		bridgelog.Error(context.Background(), "failed to encode outbound frame", "error", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	return true
}

// Close stops the timers and closes the connection with the normal
// closure code. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		stop := c.stopCh
		c.conn = nil
		c.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) teardown(stop chan struct{}) {
	c.mu.Lock()
	if c.stopCh == stop {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) emitClose(code int, reason string) {
	select {
	case c.closed <- CloseInfo{Code: code, Reason: reason}:
	default:
	}
}
