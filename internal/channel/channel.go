// Package channel implements the reconnecting duplex message channel used to
// push live analysis events. It is distinct from the raw audio socket: audio
// frames are never routed through it.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-interview-copilot/internal/observability/logging"
	"ai-interview-copilot/internal/observability/metrics"
)

// State is the connection state of the channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// Recognized inbound message types.
const (
	TypeAnalysisStream   = "analysis_stream"
	TypeAnalysisResponse = "analysis_response"
	TypeError            = "error"
)

// Handler receives the raw decoded payload of one inbound message.
type Handler func(payload json.RawMessage)

// Conn is the subset of the websocket connection the channel relies on.
// Injectable for tests.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a channel connection. Injectable for tests.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// Config controls channel behavior.
type Config struct {
	URL         string
	Token       string
	BaseDelay   time.Duration
	MaxAttempts int
}

// Client is the reconnecting message channel. On unexpected close or error it
// transitions back to connecting after base*2^attempt, unless the maximum
// attempt count is exceeded, in which case it settles in disconnected
// permanently and further sends are dropped with a warning.
type Client struct {
	cfg   Config
	dial  Dialer
	sleep func(ctx context.Context, d time.Duration) bool
	log   zerolog.Logger
	m     *metrics.Metrics

	mu       sync.Mutex
	state    State
	attempts int
	terminal bool
	conn     Conn
	handlers map[string]Handler

	// writeMu serializes WriteMessage calls: the websocket connection
	// supports only one concurrent writer.
	writeMu sync.Mutex

	runOnce   sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// envelope is the wire format: a type tag plus arbitrary payload fields.
type envelope struct {
	Type string `json:"type"`
}

// New creates a channel client. Call Run to start connecting.
func New(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Client{
		cfg:      cfg,
		dial:     gorillaDial,
		sleep:    ctxSleep,
		log:      logging.WithComponent("channel"),
		m:        metrics.DefaultMetrics,
		state:    StateDisconnected,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// NewWithDialer creates a channel client with a custom dialer.
func NewWithDialer(cfg Config, dial Dialer) *Client {
	c := New(cfg)
	c.dial = dial
	return c
}

func gorillaDial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

func ctxSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// AddHandler registers the handler for a message type. Exactly one handler
// per type; a second registration replaces the first.
func (c *Client) AddHandler(messageType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[messageType] = handler
}

// RemoveHandler unregisters the handler for a message type.
func (c *Client) RemoveHandler(messageType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, messageType)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the channel alive until ctx is cancelled, Close is
// called, or the reconnect budget is exhausted.
func (c *Client) Run(ctx context.Context) {
	c.runOnce.Do(func() {
		go c.run(ctx)
	})
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		default:
		}

		c.mu.Lock()
		if c.state == StateClosing {
			c.mu.Unlock()
			return
		}
		if c.attempts > c.cfg.MaxAttempts {
			// Terminal degradation: no more live analysis pushes.
			c.state = StateDisconnected
			c.terminal = true
			c.mu.Unlock()
			c.m.ChannelGaveUp.Inc()
			c.log.Warn().Int("attempts", c.attempts-1).Msg("Reconnect attempts exhausted, channel permanently disconnected")
			return
		}
		attempt := c.attempts
		c.state = StateConnecting
		c.mu.Unlock()

		if attempt > 0 {
			delay := c.cfg.BaseDelay * (1 << (attempt - 1))
			c.m.ChannelReconnects.Inc()
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting message channel")
			if !c.sleep(ctx, delay) {
				c.setState(StateDisconnected)
				return
			}
		}

		conn, err := c.dial(ctx, c.channelURL())
		if err != nil {
			c.mu.Lock()
			c.attempts++
			c.mu.Unlock()
			c.log.Warn().Err(err).Msg("Channel dial failed")
			continue
		}

		c.mu.Lock()
		if c.state == StateClosing {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.state = StateOpen
		c.attempts = 0
		c.mu.Unlock()
		c.log.Info().Msg("Message channel connected")

		c.readLoop(conn)

		c.mu.Lock()
		closing := c.state == StateClosing
		c.conn = nil
		if !closing {
			c.attempts = 1
		}
		c.mu.Unlock()
		_ = conn.Close()
		if closing {
			return
		}
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("Channel read failed")
			return
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.log.Warn().Err(err).Msg("Malformed channel message skipped")
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		c.m.ChannelMessagesIn.WithLabelValues(env.Type).Inc()
		if handler == nil {
			// Unknown types are ignored.
			continue
		}
		handler(payload)
	}
}

// Send sends a message if the channel is open; otherwise the message is
// discarded, never queued. Callers needing delivery guarantees must retry at
// a higher level.
func (c *Client) Send(messageType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.m.ChannelSendsDropped.Inc()
		c.log.Warn().Str("type", messageType).Msg("Channel not open, message dropped")
		return nil
	}

	body := map[string]any{"type": messageType, "data": payload}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode channel message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Close shuts the channel down permanently.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Done is closed when the run loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) channelURL() string {
	if c.cfg.Token == "" {
		return c.cfg.URL
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
