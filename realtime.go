package nestmate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the live channel.
type RealtimeConfig struct {
	// URL is the websocket endpoint, e.g. wss://api.nestmate.app/ws.
	URL   string
	Token string
	// UserID is announced with join:user after every successful connect.
	UserID string

	DisableReconnect     bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration

	// HTTPClient is used for the handshake. It must not set Timeout; the
	// dial context bounds the handshake instead.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// ConnectionState represents the live channel state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler receives raw events by name.
type RealtimeEventHandler func(event string, data json.RawMessage)

// eventDispatcher calls handlers synchronously on the read goroutine so they
// observe events in wire order. Handlers must not block.
type eventDispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]RealtimeEventHandler
	onEvent        []func(Event)
	onState        []func(ConnectionState)
	onReconnecting []func(int, time.Duration)
	logger         *slog.Logger
}

func newEventDispatcher(logger *slog.Logger) *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]RealtimeEventHandler),
		logger:  logger,
	}
}

func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	typed := append([]func(Event){}, d.onEvent...)
	generic := append([]RealtimeEventHandler{}, d.generic[env.Event]...)
	d.mu.RUnlock()

	if len(typed) > 0 {
		ev, err := DecodeEvent(env)
		switch {
		case err != nil:
			d.logger.Warn("dropping malformed event", "event", env.Event, "error", err)
		case ev != nil:
			for _, h := range typed {
				h(ev)
			}
		}
	}

	for _, h := range generic {
		h(env.Event, env.Data)
	}
}

func (d *eventDispatcher) emitState(state ConnectionState) {
	d.mu.RLock()
	handlers := append([]func(ConnectionState){}, d.onState...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(state)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector hands out a fixed delay for a bounded number of attempts.
type reconnector struct {
	delay       time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		delay:       config.ReconnectDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	return r.delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single long-lived websocket to the backend. It
// reconnects with a fixed delay and a capped number of attempts; once the
// budget is spent it stays disconnected until Connect is called again.
type RealtimeClient struct {
	config     *RealtimeConfig
	logger     *slog.Logger
	dispatcher *eventDispatcher

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	intentionalClose bool
	dialing          bool
	cancelFn         context.CancelFunc
	stopCh           chan struct{}
	recon            *reconnector
}

// NewRealtimeClient creates a live-channel client. Call Connect to dial.
func NewRealtimeClient(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		config:     &cfg,
		logger:     cfg.Logger,
		dispatcher: newEventDispatcher(cfg.Logger),
		state:      StateDisconnected,
		recon:      newReconnector(&cfg),
	}
}

// On registers a raw handler for one event name.
func (c *RealtimeClient) On(event string, h RealtimeEventHandler) {
	c.dispatcher.mu.Lock()
	c.dispatcher.generic[event] = append(c.dispatcher.generic[event], h)
	c.dispatcher.mu.Unlock()
}

// OnEvent registers a handler for decoded message and read events.
func (c *RealtimeClient) OnEvent(h func(Event)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onEvent = append(c.dispatcher.onEvent, h)
	c.dispatcher.mu.Unlock()
}

// OnStateChange registers a handler for connection state transitions.
func (c *RealtimeClient) OnStateChange(h func(ConnectionState)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onState = append(c.dispatcher.onState, h)
	c.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler called before each reconnect attempt.
func (c *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onReconnecting = append(c.dispatcher.onReconnecting, h)
	c.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (c *RealtimeClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the backend and announces the user. Calling it while
// connected is a no-op. An explicit Connect restores a full reconnect budget.
// While a reconnect handshake is in flight it returns ErrDialInProgress.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	if c.config.URL == "" {
		return errors.New("realtime: no endpoint configured")
	}
	c.mu.Lock()
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
	c.recon.reset()
	c.mu.Unlock()
	return c.dial(ctx, false)
}

// Disconnect closes the connection and cancels any pending reconnect.
func (c *RealtimeClient) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if changed {
		c.dispatcher.emitState(StateDisconnected)
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Emit sends one event. Delivery is fire-and-forget: the only error reported
// is a failure to hand the frame to the connection.
func (c *RealtimeClient) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return writeEnvelope(ctx, conn, event, payload)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (c *RealtimeClient) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if c.config.Token != "" {
		q := u.Query()
		q.Set("token", c.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *RealtimeClient) dial(ctx context.Context, reconnecting bool) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.dialing {
		c.mu.Unlock()
		return ErrDialInProgress
	}
	if reconnecting && c.intentionalClose {
		c.mu.Unlock()
		return errors.New("realtime: disconnected")
	}
	c.dialing = true
	c.intentionalClose = false
	if !reconnecting {
		c.state = StateConnecting
	}
	c.mu.Unlock()
	if !reconnecting {
		c.dispatcher.emitState(StateConnecting)
	}

	failState := StateDisconnected
	if reconnecting {
		failState = StateReconnecting
	}
	fail := func(err error) error {
		c.mu.Lock()
		c.dialing = false
		changed := c.state != failState
		c.state = failState
		c.mu.Unlock()
		if changed {
			c.dispatcher.emitState(failState)
		}
		return err
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return fail(err)
	}
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return fail(fmt.Errorf("websocket dial: %w", err))
	}
	conn.SetReadLimit(1 << 20)

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.dialing = false
	if c.intentionalClose {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return errors.New("realtime: disconnected while dialing")
	}
	c.conn = conn
	c.cancelFn = cancel
	c.state = StateConnected
	c.recon.reset()
	c.mu.Unlock()

	if c.config.UserID != "" {
		joinCtx, joinCancel := context.WithTimeout(connCtx, 5*time.Second)
		err := writeEnvelope(joinCtx, conn, EventJoinUser, JoinPayload{UserID: c.config.UserID})
		joinCancel()
		if err != nil {
			c.logger.Warn("join announcement failed", "user", c.config.UserID, "error", err)
		}
	}
	c.logger.Info("realtime connected", "url", c.config.URL, "reconnect", reconnecting)
	c.dispatcher.emitState(StateConnected)

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)
	return nil
}

func (c *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debug("ignoring undecodable frame", "bytes", len(data))
			continue
		}
		c.dispatcher.dispatch(env)
	}
}

func (c *RealtimeClient) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.intentionalClose || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	reconnect := !c.config.DisableReconnect && c.recon.shouldReconnect()
	next := StateDisconnected
	if reconnect {
		next = StateReconnecting
	}
	c.state = next
	stop := c.stopCh
	c.mu.Unlock()

	conn.Close(websocket.StatusGoingAway, "")
	c.logger.Warn("realtime connection lost", "error", cause, "reconnect", reconnect)
	c.dispatcher.emitState(next)

	if reconnect {
		c.reconnectLoop(stop)
	}
}

func (c *RealtimeClient) reconnectLoop(stop <-chan struct{}) {
	for {
		c.mu.Lock()
		if !c.recon.shouldReconnect() {
			c.mu.Unlock()
			break
		}
		delay := c.recon.nextDelay()
		attempt := c.recon.attempt
		c.mu.Unlock()

		c.dispatcher.emitReconnecting(attempt, delay)
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.dial(ctx, true)
		cancel()
		if err == nil {
			return
		}
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	c.logger.Info("realtime reconnect budget exhausted", "attempts", c.config.MaxReconnectAttempts)
	c.dispatcher.emitState(StateDisconnected)
}

func (c *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("heartbeat failed", "error", err)
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
