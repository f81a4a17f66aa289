// Package events maintains the client's persistent bidirectional connection
// to the backend. One Client per process; inject it, close it on shutdown.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names emitted by the client.
const (
	EventJoin                = "join"
	EventCartUpdated         = "cartUpdated"
	EventCartCleared         = "cartCleared"
	EventUserProfileUpdated  = "userProfileUpdated"
	EventUpdateRiderLocation = "updateRiderLocation"
	EventCallWaiter          = "callWaiter"
)

// Event names pushed by the backend.
const (
	EventNewOrder            = "newOrder"
	EventOrderUpdated        = "orderUpdated"
	EventProductCreated      = "productCreated"
	EventProductUpdated      = "productUpdated"
	EventProductDeleted      = "productDeleted"
	EventSettingsUpdated     = "settingsUpdated"
	EventRiderLocationUpdate = "riderLocationUpdated"
	EventUserLocationUpdate  = "userLocationUpdated"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("events: client closed")

// ErrNotConnected is returned by Emit while the connection is down. Emits are
// at-most-once; nothing is queued for replay.
var ErrNotConnected = errors.New("events: not connected")

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type dialer func(url string) (*websocket.Conn, error)

// Client is the event-channel connection. Construct with New, start with
// Connect, stop with Close.
type Client struct {
	url    string
	log    *slog.Logger
	dial   dialer
	config ReconnectConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	room      string
	nextID    int
	handlers  map[string]map[int]Handler
	reconnect []func()
	done      chan struct{}
}

// ReconnectConfig controls the backoff between dial attempts.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func New(url string, log *slog.Logger) *Client {
	return &Client{
		url:    url,
		log:    log,
		config: DefaultReconnectConfig(),
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		handlers: make(map[string]map[int]Handler),
		done:     make(chan struct{}),
	}
}

// Connect dials the backend and starts the read/reconnect loop. The first
// dial failure is not fatal; the loop keeps retrying until Close.
func (c *Client) Connect() {
	go c.run()
}

func (c *Client) run() {
	delay := c.config.InitialDelay
	first := true

	for {
		conn, err := c.dial(c.url)
		if err != nil {
			c.log.Warn("events_dial_error", "error", err)
			if !c.sleep(delay) {
				return
			}
			delay = c.nextDelay(delay)
			continue
		}

		delay = c.config.InitialDelay

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connected = true
		room := c.room
		hooks := append([]func(){}, c.reconnect...)
		c.mu.Unlock()

		c.log.Info("events_connected", "url", c.url)

		if room != "" {
			if err := c.Emit(EventJoin, room); err != nil {
				c.log.Warn("events_rejoin_error", "error", err)
			}
		}
		if !first {
			for _, hook := range hooks {
				hook()
			}
		}
		first = false

		c.readPump(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.log.Warn("events_disconnected")
		if !c.sleep(delay) {
			return
		}
		delay = c.nextDelay(delay)
	}
}

// nextDelay applies exponential backoff with a little jitter so a fleet of
// clients does not redial in lockstep.
func (c *Client) nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * c.config.BackoffFactor)
	if next > c.config.MaxDelay {
		next = c.config.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(next)/10 + 1))
	return next + jitter
}

func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("events_bad_payload", "error", err)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	var hs []Handler
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

// Subscribe registers a handler for a named event and returns the function
// that removes it. Callers must invoke it on teardown.
func (c *Client) Subscribe(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// Emit sends one named message. At-most-once: a send into a dead connection
// is an error, never a queue.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(envelope{Event: event, Data: data})
}

// Join enters the identity-scoped room so the backend routes this identity's
// events here. The room is remembered and re-joined after every reconnect.
func (c *Client) Join(email string) error {
	c.mu.Lock()
	c.room = email
	c.mu.Unlock()
	return c.Emit(EventJoin, email)
}

// OnReconnect registers a hook run after every successful re-dial (not the
// first connect). Consumers that care about missed pushes re-fetch here.
func (c *Client) OnReconnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = append(c.reconnect, hook)
}

// Connected reports whether the channel is currently up, for the offline banner.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
