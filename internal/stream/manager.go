package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/roomwatch/internal/store"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
	closeGracePeriod        = time.Second
)

// State is the lifecycle state of the push channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrAlreadyRunning is returned by [Manager.Connect] while a connection loop
// is active.
var ErrAlreadyRunning = errors.New("connection manager already running")

// Applier receives decoded push events. It is implemented by the resource store.
type Applier interface {
	ApplyUpdate(rt store.ResourceType, id string, payload map[string]any, observedAt time.Time) (bool, error)
	Remove(rt store.ResourceType, id string, removedAt time.Time) bool
}

// Options configures a [Manager].
type Options struct {
	// Header is sent with every handshake (e.g. Authorization).
	Header http.Header

	// Backoff controls reconnect delays. Zero value means DefaultBackoff.
	Backoff Backoff

	// OnStateChange is called after every state transition, from the
	// connection goroutine. It must not block.
	OnStateChange func(State)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the push-channel lifecycle.
//
// State transitions are driven exclusively by the Manager:
//
//	disconnected → connecting → connected
//	connected / connecting → reconnecting → connected
//	any → disconnected (Disconnect or context cancel)
//
// Any connection loss the Manager did not initiate schedules a reconnect
// after a capped exponential backoff. A successful handshake resets the
// failure counter.
type Manager struct {
	applier Applier
	header  http.Header
	backoff Backoff
	onState func(State)
	logger  *slog.Logger
	dialer  *websocket.Dialer

	// wait blocks for d or until ctx is done; reports whether d elapsed.
	wait func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool

	writeMu sync.Mutex

	received atomic.Int64
	dropped  atomic.Int64
}

// NewManager creates a [Manager] in the disconnected state.
//
// Returns an error if the backoff configuration is invalid.
func NewManager(applier Applier, opts Options) (*Manager, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}

	backoff := opts.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff
	}
	if err := backoff.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		applier: applier,
		header:  opts.Header.Clone(),
		backoff: backoff,
		onState: opts.OnStateChange,
		logger:  logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		wait:  sleepContext,
		state: StateDisconnected,
	}, nil
}

// Connect starts the connection loop for rawURL in the background.
//
// rawURL must use the ws or wss scheme. The loop runs until ctx is cancelled
// or [Manager.Disconnect] is called. Returns [ErrAlreadyRunning] if a loop
// is already active.
func (m *Manager) Connect(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("stream url must include a host")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, u.String(), done)
	return nil
}

// Disconnect closes the channel and stops reconnecting.
//
// It blocks until the connection goroutine has exited. Safe to call when not
// connected and safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	if cancel != nil {
		m.closing = true
	}
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	}
	cancel()
	<-done
}

// Send writes v as JSON over the channel.
//
// Sending is best-effort: when the channel is not connected Send is a no-op
// and returns nil. Callers must not assume delivery.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Received returns the number of messages read from the channel.
func (m *Manager) Received() int64 {
	return m.received.Load()
}

// Dropped returns the number of malformed or rejected envelopes.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// run is the connection loop. It owns the failure counter.
func (m *Manager) run(ctx context.Context, target string, done chan struct{}) {
	defer close(done)
	defer m.finish()

	failures := 0
	for {
		session := uuid.NewString()
		if failures == 0 {
			m.setState(StateConnecting)
		}

		conn, resp, err := m.dialer.DialContext(ctx, target, m.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attrs := []any{"session", session, "url", target, "error", err.Error()}
			if resp != nil {
				attrs = append(attrs, "http_status", resp.StatusCode)
			}
			failures++
			if !m.backoffAfterFailure(ctx, failures, "stream dial failed", attrs) {
				return
			}
			continue
		}

		failures = 0
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		m.logger.Info("stream connected", "session", session, "url", target)

		err = m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		closing := m.closing
		m.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil || closing {
			return
		}
		failures++
		if !m.backoffAfterFailure(ctx, failures, "stream connection lost", []any{"session", session, "error", err.Error()}) {
			return
		}
	}
}

// backoffAfterFailure moves to reconnecting and waits the backoff delay.
// Returns false if the context ended while waiting.
func (m *Manager) backoffAfterFailure(ctx context.Context, failures int, msg string, attrs []any) bool {
	delay := m.backoff.Delay(failures)
	m.setState(StateReconnecting)
	m.logger.Warn(msg, append(attrs, "attempt", failures, "retry_in", delay.String())...)
	return m.wait(ctx, delay)
}

// readLoop reads messages until the connection fails or ctx ends.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// unblock ReadMessage when the loop is cancelled
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("closed by server: %w", err)
			}
			return err
		}
		m.handleMessage(data, time.Now())
	}
}

// handleMessage decodes one envelope and forwards it to the applier.
func (m *Manager) handleMessage(data []byte, receivedAt time.Time) {
	m.received.Add(1)

	env, err := ParseEnvelope(data)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Debug("envelope dropped", "error", err.Error(), "dropped_total", m.dropped.Load())
		return
	}

	observedAt := env.ServerTime
	if observedAt.IsZero() {
		observedAt = receivedAt
	}

	switch env.Type {
	case TypeUpdate:
		if _, err := m.applier.ApplyUpdate(env.ResourceType, env.ID, env.Payload, observedAt); err != nil {
			m.dropped.Add(1)
			m.logger.Debug("envelope rejected", "resource_type", env.ResourceType.String(), "id", env.ID, "error", err.Error())
		}
	case TypeDelete:
		m.applier.Remove(env.ResourceType, env.ID, observedAt)
	}
}

// setState records a transition and notifies the observer outside the lock.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.notify(s)
}

// finish resets the manager once the loop has exited.
func (m *Manager) finish() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.closing = false
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if changed {
		m.notify(StateDisconnected)
		m.logger.Info("stream disconnected")
	}
}

func (m *Manager) notify(s State) {
	if m.onState == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state callback panicked", "panic", r, "state", string(s))
		}
	}()
	m.onState(s)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
