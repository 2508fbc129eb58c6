// Package session implements the client side of the collaboration protocol:
// one shared realtime connection per browsing session, room-scoped
// controllers on top of it, and the degraded request/response fallback used
// when no transport is warranted or available.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"teleview/internal/wire"
)

// Status is the transport lifecycle state, surfaced to the UI so it can show
// degraded mode without losing read access to the message log.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusErrored      Status = "errored"
	StatusClosed       Status = "closed"
)

var (
	// ErrNotConnected reports a realtime call attempted without a live
	// transport; callers should use the degraded path instead.
	ErrNotConnected = errors.New("session transport is not connected")
	// ErrAckTimeout reports a send that the server did not acknowledge in
	// time.
	ErrAckTimeout = errors.New("timed out waiting for server acknowledgment")
)

// RetryPolicy controls reconnection after an unexpected disconnect. The zero
// value retries forever at a fixed default delay.
type RetryPolicy struct {
	Delay       time.Duration // base delay between attempts; default 3s
	Multiplier  float64       // per-attempt backoff factor; <=1 keeps the delay fixed
	MaxDelay    time.Duration // backoff ceiling; 0 means no ceiling
	MaxAttempts int           // 0 retries without bound
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Delay
	if d <= 0 {
		d = 3 * time.Second
	}
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// exhausted reports whether attempt (1-based) exceeds the policy's bound.
func (p RetryPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

type handlerEntry struct {
	id int
	fn func(wire.Envelope)
}

// Client is the long-lived authenticated connection shared by every room a
// session views. It is not a hidden singleton; room controllers receive it
// explicitly and depend only on the narrow Transport interface.
type Client struct {
	url          string
	token        string
	dialer       *websocket.Dialer
	policy       RetryPolicy
	pingInterval time.Duration
	ackTimeout   time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	status      Status
	closed      bool
	generation  int
	handlers    map[string][]handlerEntry
	nextHandler int
	joinWaiters map[string][]chan struct{}
	ackWaiters  map[string]chan error
	onStatus    func(Status)
}

// ClientOption tweaks a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the reconnection policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithAckTimeout overrides the send acknowledgment timeout.
func WithAckTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.ackTimeout = d }
}

// WithPingInterval overrides the keep-alive interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pingInterval = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient prepares a client for the realtime endpoint at url (ws:// or
// wss://), authenticating with the given bearer token.
func NewClient(url, token string, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		token:        token,
		dialer:       websocket.DefaultDialer,
		pingInterval: 25 * time.Second,
		ackTimeout:   10 * time.Second,
		logger:       slog.Default(),
		status:       StatusIdle,
		handlers:     make(map[string][]handlerEntry),
		joinWaiters:  make(map[string][]chan struct{}),
		ackWaiters:   make(map[string]chan error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current transport status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus registers the status callback. Connection errors surface here;
// they are never fatal to the caller.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Connect dials and authenticates. On failure the client enters
// StatusErrored and the error is returned; Connect itself never retries.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		c.setStatus(StatusErrored)
		return fmt.Errorf("connect realtime transport: %w", err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{"Authorization": {"Bearer " + c.token}}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("client is closed")
	}
	c.conn = conn
	c.status = StatusConnected
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.notifyStatus(StatusConnected)
	go c.readPump(conn, gen)
	go c.pingLoop(conn, gen)
	return nil
}

// Close tears the connection down for good. No reconnection follows a
// manual close.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.notifyStatus(StatusClosed)
}

// On subscribes fn to an event type and returns the unsubscribe function.
func (c *Client) On(eventType string, fn func(wire.Envelope)) func() {
	c.mu.Lock()
	c.nextHandler++
	id := c.nextHandler
	c.handlers[eventType] = append(c.handlers[eventType], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				c.handlers[eventType] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// JoinRoom asks the server to add this session to a room and waits for the
// joinedRoom acknowledgment. Only after the ack may the caller request a
// presence snapshot. Joins to different rooms are independent.
func (c *Client) JoinRoom(ctx context.Context, roomRef string) error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ack := make(chan struct{})
	c.joinWaiters[roomRef] = append(c.joinWaiters[roomRef], ack)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		waiters := c.joinWaiters[roomRef]
		for i, w := range waiters {
			if w == ack {
				c.joinWaiters[roomRef] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(c.joinWaiters[roomRef]) == 0 {
			delete(c.joinWaiters, roomRef)
		}
	}()

	if err := c.write(wire.EventJoinRoom, wire.RoomPayload{RoomRef: roomRef}); err != nil {
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("join room %q: %w", roomRef, ErrAckTimeout)
	}
}

// LeaveRoom is fire-and-forget: it must be attempted whenever the viewing
// surface is torn down, even if the join never completed, so no presence
// entry leaks server-side. Errors are deliberately swallowed.
func (c *Client) LeaveRoom(roomRef string) {
	_ = c.write(wire.EventLeaveRoom, wire.RoomPayload{RoomRef: roomRef})
}

// SendMessage emits a chat message and waits for the server acknowledgment
// or an explicit server error; there is no local echo on this path, the log
// grows when the newMessage broadcast comes back.
func (c *Client) SendMessage(ctx context.Context, roomRef, content string) error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	clientRef := uuid.NewString()
	ack := make(chan error, 1)
	c.ackWaiters[clientRef] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.ackWaiters, clientRef)
		c.mu.Unlock()
	}()

	err := c.write(wire.EventSendMessage, wire.SendMessagePayload{
		RoomRef:   roomRef,
		Content:   content,
		ClientRef: clientRef,
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("send message: %w", ErrAckTimeout)
	}
}

// SendTyping emits the advisory typing signal; it never blocks sending.
func (c *Client) SendTyping(roomRef string, isTyping bool) {
	_ = c.write(wire.EventTyping, wire.TypingPayload{RoomRef: roomRef, IsTyping: isTyping})
}

// RequestOnlineUsers asks for a presence snapshot; the onlineUsers event
// delivers it to subscribers.
func (c *Client) RequestOnlineUsers(roomRef string) error {
	return c.write(wire.EventGetOnlineUsers, wire.RoomPayload{RoomRef: roomRef})
}

func (c *Client) write(eventType string, payload any) error {
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(env)
}

func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(conn, gen, err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.EventJoinedRoom:
		var p wire.RoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		waiters := c.joinWaiters[p.RoomRef]
		delete(c.joinWaiters, p.RoomRef)
		c.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
	case wire.EventMessageSent:
		var p wire.MessageSentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.deliverAck(p.ClientRef, nil)
	case wire.EventError:
		var p wire.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if p.ClientRef != "" {
			c.deliverAck(p.ClientRef, errors.New(p.Message))
		} else {
			c.logger.Warn("server error", slog.String("message", p.Message))
		}
	case wire.EventPong:
		return
	}

	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[env.Type]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(env)
	}
}

func (c *Client) deliverAck(clientRef string, err error) {
	c.mu.Lock()
	ch, ok := c.ackWaiters[clientRef]
	delete(c.ackWaiters, clientRef)
	c.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := c.closed || c.generation != gen || c.conn != conn
		c.mu.Unlock()
		if stale {
			return
		}
		// Write errors surface through the read pump.
		_ = c.write(wire.EventPing, struct{}{})
	}
}

// handleDisconnect reacts to a broken read loop. Manual closes stop here;
// anything else surfaces StatusDisconnected and starts the retry loop.
func (c *Client) handleDisconnect(conn *websocket.Conn, gen int, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.closed || c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.logger.Warn("realtime transport lost", slog.String("error", cause.Error()))
	c.notifyStatus(StatusDisconnected)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		if c.policy.exhausted(attempt) {
			c.setStatus(StatusErrored)
			c.logger.Error("reconnect attempts exhausted", slog.Int("attempts", attempt-1))
			return
		}

		time.Sleep(c.policy.delay(attempt))

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Info("realtime transport restored", slog.Int("attempt", attempt))
			return
		}
		// Status stays Disconnected while attempts continue.
		c.logger.Warn("reconnect failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.notifyStatus(s)
}

func (c *Client) notifyStatus(s Status) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
