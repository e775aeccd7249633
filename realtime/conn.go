package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// connectTimeout bounds both a single dial attempt and the time a
	// Connect caller waits for the Connected state. The background retry
	// loop keeps going after a caller gives up.
	connectTimeout = 10 * time.Second

	backoffMin = 1 * time.Second
	backoffMax = 30 * time.Second

	// maxReconnectAttempts is the ceiling on consecutive failed dials.
	// Once reached the connection stays down until an explicit Connect.
	maxReconnectAttempts = 5

	// maxBackoffShift caps the bit-shift exponent when computing retry
	// delays to prevent time.Duration overflow.
	maxBackoffShift = 10

	pingAfter        = 10 * time.Second
	heartbeatTimeout = 30 * time.Second
	heartbeatCheckAt = 5 * time.Second

	// wsReadLimit caps inbound frame size. Events are small JSON payloads;
	// attachments travel over REST, not the socket.
	wsReadLimit = 1024 * 1024
)

var (
	// ErrNotConnected is returned for operations that need a live socket.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectTimeout is returned when Connect does not reach the
	// Connected state within connectTimeout.
	ErrConnectTimeout = errors.New("connection timeout")

	// ErrRetriesExhausted is returned when the reconnect budget is spent.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// wsConn abstracts the WebSocket connection so Conn can be tested without
// a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// dialFunc dials one physical connection. Replaced in tests.
type dialFunc func(ctx context.Context) (wsConn, error)

// FrameSink receives every inbound topic frame. The subscription registry
// installs itself here to fan frames out to topic handlers.
type FrameSink func(topic string, body []byte)

// ConnConfig holds the parameters needed to reach the sync server.
type ConnConfig struct {
	// URL is the WebSocket endpoint, e.g. wss://sync.example.com/ws.
	URL string

	// UserID identifies this client in the connect handshake.
	UserID string

	// Token is the session token sent with the handshake.
	Token string
}

// Conn owns the single multiplexed transport connection to the sync
// server. It is constructed once at application bootstrap and passed by
// reference to the registry and stores; there is no package-level
// singleton.
//
// State machine: Disconnected -> Connecting -> Connected. On dial failure
// or an established connection dropping, the state returns to
// Disconnected and a retry is scheduled on a single owned timer with
// exponential backoff. The timer is cancelled on every state transition,
// so overlapping retries cannot occur.
type Conn struct {
	logger *slog.Logger
	cfg    ConnConfig
	dial   dialFunc

	mu           sync.Mutex
	state        State
	ws           wsConn
	attempts     int
	retryTimer   *time.Timer
	readCancel   context.CancelFunc
	listeners    map[int]func(State)
	nextListener int
	waiters      []chan error
	sink         FrameSink

	// writeMu serializes frame writes: the heartbeat goroutine and
	// registry subscribe calls both write to the socket.
	writeMu sync.Mutex

	lastMessage time.Time
	lastMsgMu   sync.Mutex
}

// NewConn creates a connection manager. It does not dial; call Connect.
func NewConn(cfg ConnConfig, logger *slog.Logger) *Conn {
	c := &Conn{
		logger:    logger,
		cfg:       cfg,
		listeners: make(map[int]func(State)),
	}
	c.dial = c.dialWebSocket

	return c
}

func (c *Conn) dialWebSocket(ctx context.Context) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	return conn, nil
}

// Connect brings the connection up. It is idempotent: calling it while
// already Connected returns immediately, and calling it while a dial is
// in flight just waits for the outcome. An explicit Connect resets the
// retry budget, so it is also the way to resume after the budget was
// exhausted. Returns ErrConnectTimeout if Connected is not reached within
// 10 seconds; the background retry loop continues regardless.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}

	ready := make(chan error, 1)
	c.waiters = append(c.waiters, ready)

	var fns []func(State)
	if c.state == StateDisconnected {
		c.stopRetryTimerLocked()
		c.attempts = 0
		fns = c.startDialLocked()
	}
	c.mu.Unlock()
	c.broadcast(StateConnecting, fns)

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		return err
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the connection down and stops retrying. No effect when
// already disconnected. An explicit disconnect never counts against the
// reconnect budget.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.stopRetryTimerLocked()
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.attempts = 0

	// Pending Connect callers are failed now rather than left to sit
	// out their timeout.
	for _, w := range c.waiters {
		w <- ErrNotConnected
	}
	c.waiters = nil

	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	fns := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.broadcast(StateDisconnected, fns)
	c.logger.Info("disconnected")
}

// Status reports the current connection state.
func (c *Conn) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// OnStateChange registers a listener invoked on every state transition.
// Returns an unsubscribe func. Listeners must not block.
func (c *Conn) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetFrameSink installs the inbound frame consumer. Called once by the
// registry during bootstrap.
func (c *Conn) SetFrameSink(sink FrameSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// send marshals v and writes it as a text frame. Returns ErrNotConnected
// when no live socket exists; callers treat that as a normal, retryable
// condition.
func (c *Conn) send(ctx context.Context, v any) error {
	c.mu.Lock()
	ws := c.ws
	st := c.state
	c.mu.Unlock()

	if st != StateConnected || ws == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return ws.Write(ctx, websocket.MessageText, data)
}

// startDialLocked transitions to Connecting and launches the dial
// goroutine. Caller holds mu and must broadcast the returned listeners.
func (c *Conn) startDialLocked() []func(State) {
	fns := c.setStateLocked(StateConnecting)
	go c.dialAndRun()

	return fns
}

// dialAndRun performs one dial + handshake attempt and, on success,
// starts the reader and heartbeat goroutines for the new connection.
func (c *Conn) dialAndRun() {
	dialCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	ws, err := c.dial(dialCtx)
	if err == nil {
		if hsErr := c.handshake(dialCtx, ws); hsErr != nil {
			ws.Close(websocket.StatusInternalError, "handshake failed")
			err = hsErr
		}
	}

	if err != nil {
		c.connectFailed(err)
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh socket.
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "superseded")

		return
	}

	c.ws = ws
	c.attempts = 0
	readCtx, readCancel := context.WithCancel(context.Background())
	c.readCancel = readCancel
	fns := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.touchLastMessage()
	go c.readLoop(readCtx, ws)
	go c.heartbeatLoop(readCtx, ws)

	c.broadcast(StateConnected, fns)
	c.logger.Info("connected", slog.String("url", c.cfg.URL))
}

// handshake identifies the client and waits for the server to accept.
func (c *Conn) handshake(ctx context.Context, ws wsConn) error {
	init := connectMessage{Op: "connect", UserID: c.cfg.UserID, Token: c.cfg.Token}

	data, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("marshalling connect message: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("sending connect: %w", err)
	}

	_, resp, err := ws.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading connect response: %w", err)
	}

	var cr connectResponse
	if err := json.Unmarshal(resp, &cr); err != nil {
		return fmt.Errorf("decoding connect response: %w", err)
	}
	if cr.Res != "ok" {
		return fmt.Errorf("connect rejected: %s", cr.Res)
	}

	return nil
}

// connectFailed records a failed dial attempt and schedules the next
// retry, unless the budget is exhausted.
func (c *Conn) connectFailed(err error) {
	c.mu.Lock()
	if c.state != StateConnecting {
		// Explicit disconnect raced the dial.
		c.mu.Unlock()
		return
	}

	fns := c.setStateLocked(StateDisconnected)
	gaveUp, delay := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.broadcast(StateDisconnected, fns)

	if gaveUp {
		c.logger.Error("reconnect attempts exhausted",
			slog.String("error", err.Error()),
			slog.Int("attempts", maxReconnectAttempts),
		)
		return
	}

	c.logger.Warn("connect failed, retrying",
		slog.String("error", err.Error()),
		slog.Duration("backoff", delay),
	)
}

// connDropped handles an established connection failing underneath us.
func (c *Conn) connDropped(err error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}

	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	ws := c.ws
	c.ws = nil

	fns := c.setStateLocked(StateDisconnected)
	gaveUp, delay := c.scheduleReconnectLocked()
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusGoingAway, "connection lost")
	}
	c.broadcast(StateDisconnected, fns)

	if gaveUp {
		c.logger.Error("connection lost, reconnect attempts exhausted",
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Warn("connection lost, reconnecting",
		slog.String("error", err.Error()),
		slog.Duration("backoff", delay),
	)
}

// scheduleReconnectLocked arms the retry timer for the next attempt, or
// reports that the budget is spent. Caller holds mu. Pending Connect
// callers are failed immediately on exhaustion rather than left to time
// out.
func (c *Conn) scheduleReconnectLocked() (gaveUp bool, delay time.Duration) {
	if c.attempts >= maxReconnectAttempts {
		for _, w := range c.waiters {
			w <- ErrRetriesExhausted
		}
		c.waiters = nil

		return true, 0
	}

	c.attempts++
	delay = retryDelay(c.attempts)

	c.stopRetryTimerLocked()
	c.retryTimer = time.AfterFunc(delay, c.retryNow)

	return false, delay
}

// retryNow is the retry timer callback: dial again if still disconnected.
func (c *Conn) retryNow() {
	c.mu.Lock()
	c.retryTimer = nil
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	fns := c.startDialLocked()
	c.mu.Unlock()

	c.broadcast(StateConnecting, fns)
}

// retryDelay computes the backoff for the Nth consecutive failure:
// min(2^(N-1) * 1s, 30s).
func retryDelay(failures int) time.Duration {
	shift := failures - 1
	if shift > maxBackoffShift {
		return backoffMax
	}

	d := backoffMin << shift
	if d > backoffMax {
		return backoffMax
	}

	return d
}

func (c *Conn) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setStateLocked transitions the state machine and returns the listener
// snapshot to notify after mu is released. Connected wakes all pending
// Connect callers.
func (c *Conn) setStateLocked(s State) []func(State) {
	if c.state == s {
		return nil
	}
	c.state = s

	if s == StateConnected {
		for _, w := range c.waiters {
			w <- nil
		}
		c.waiters = nil
	}

	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}

	return fns
}

func (c *Conn) broadcast(s State, fns []func(State)) {
	for _, fn := range fns {
		fn(s)
	}
}

// readLoop reads frames until the connection drops or readCtx is
// cancelled by an explicit Disconnect. Pongs are absorbed here; topic
// frames go to the sink.
func (c *Conn) readLoop(ctx context.Context, ws wsConn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.connDropped(err)

			return
		}
		c.touchLastMessage()

		if typ != websocket.MessageText {
			c.logger.Debug("unexpected binary frame", slog.Int("bytes", len(data)))
			continue
		}

		if gjson.GetBytes(data, "op").Str == "pong" {
			continue
		}

		topic := gjson.GetBytes(data, "topic").String()
		if topic == "" {
			c.logger.Debug("frame without topic", slog.Int("bytes", len(data)))
			continue
		}

		body := data
		if raw := gjson.GetBytes(data, "body"); raw.Exists() {
			body = []byte(raw.Raw)
		}

		c.mu.Lock()
		sink := c.sink
		c.mu.Unlock()

		if sink != nil {
			sink(topic, body)
		}
	}
}

// heartbeatLoop pings an idle connection and closes one that has gone
// silent past heartbeatTimeout. Closing unblocks readLoop, which then
// runs the normal drop-and-reconnect path.
func (c *Conn) heartbeatLoop(ctx context.Context, ws wsConn) {
	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.lastMsgMu.Lock()
			elapsed := time.Since(c.lastMessage)
			c.lastMsgMu.Unlock()

			if elapsed > heartbeatTimeout {
				c.logger.Warn("heartbeat timeout, closing connection")
				ws.Close(websocket.StatusGoingAway, "heartbeat timeout")

				return
			}

			if elapsed > pingAfter {
				if err := c.send(ctx, pingMessage{Op: "ping"}); err != nil {
					c.logger.Debug("sending ping", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (c *Conn) touchLastMessage() {
	c.lastMsgMu.Lock()
	c.lastMessage = time.Now()
	c.lastMsgMu.Unlock()
}
