// Package realtime owns the single persistent channel between the console and
// the backend: connect, reconnect with linear backoff, and fan-out of raw
// frames and connection-state changes to reference-counted subscribers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionLost wraps read failures on an open channel.
	ErrConnectionLost = errors.New("connection lost")
	// ErrRetriesExhausted is reported in Status.LastError once automatic reconnects stop.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
)

// State is the lifecycle state of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of the channel state delivered to subscribers.
type Status struct {
	State            State
	Failures         int
	RetriesExhausted bool
	LastError        error
}

// Conn is one open duplex channel.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Config controls reconnect behavior.
type Config struct {
	URL          string
	RetryLimit   int
	BaseDelay    time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the standard reconnect policy for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		RetryLimit:   5,
		BaseDelay:    time.Second,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type subscriber struct {
	id      int64
	onFrame func([]byte)
	onState func(Status)
}

// Manager owns exactly one live channel at a time.
//
// Subscribe increments a reference count and the first subscriber starts the
// connection; when the count returns to zero the channel is closed without
// scheduling a reconnect. Callbacks run one at a time, in the order the
// transport delivered frames. Callbacks must not call the returned
// unsubscribe function synchronously.
type Manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	failures  int
	exhausted bool
	lastErr   error
	conn      Conn
	gen       uint64 // bumped on teardown so stale dials and reads are discarded
	timer     *time.Timer
	subs      []*subscriber
	nextSubID int64
	disposed  bool

	dispatchMu sync.Mutex
}

// NewManager creates a manager. No connection is attempted until the first
// Subscribe or an explicit Connect.
func NewManager(cfg Config, dialer Dialer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig(cfg.URL)
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("component", "realtime", "url", cfg.URL),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Status returns the current channel status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:            m.state,
		Failures:         m.failures,
		RetriesExhausted: m.exhausted,
		LastError:        m.lastErr,
	}
}

// Connect starts a connection attempt. It is a no-op while an attempt is in
// flight or the channel is open. Called after retries are exhausted it resets
// the failure counter and tries again.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.disposed || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.failures = 0
	m.exhausted = false
	m.state = Connecting
	st := m.statusLocked()
	gen := m.gen
	m.mu.Unlock()

	m.logger.Debug("Connecting")
	m.notify(st)
	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(ctx, m.cfg.URL)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.disposed {
		m.mu.Unlock()
		if conn != nil {
			if closeErr := conn.Close(); closeErr != nil {
				m.logger.Debug("Failed to close stale connection", "error", closeErr)
			}
		}
		return
	}
	if err != nil {
		st := m.failLocked(err)
		m.mu.Unlock()
		m.logger.Warn("Connection attempt failed", "error", err, "failures", st.Failures, "retries_exhausted", st.RetriesExhausted)
		m.notify(st)
		return
	}

	m.conn = conn
	m.state = Connected
	m.failures = 0
	m.exhausted = false
	m.lastErr = nil
	st := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("Connected")
	m.notify(st)
	go m.readLoop(gen, conn)
}

// failLocked records a failed attempt or dropped channel and schedules the
// next reconnect unless the retry budget is spent.
func (m *Manager) failLocked(err error) Status {
	m.conn = nil
	m.state = Disconnected
	m.lastErr = err
	m.failures++

	if m.failures >= m.cfg.RetryLimit {
		m.exhausted = true
		m.lastErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		return m.statusLocked()
	}

	gen := m.gen
	delay := m.retryDelay(m.failures)
	m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
	m.logger.Debug("Reconnect scheduled", "delay", delay, "attempt", m.failures+1)
	return m.statusLocked()
}

// retryDelay grows linearly with the number of consecutive failures.
func (m *Manager) retryDelay(failures int) time.Duration {
	return m.cfg.BaseDelay * time.Duration(failures)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.disposed || m.exhausted || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = Connecting
	st := m.statusLocked()
	m.mu.Unlock()

	m.notify(st)
	go m.dial(gen)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.mu.Lock()
			if gen != m.gen || m.conn != conn {
				m.mu.Unlock()
				return
			}
			st := m.failLocked(fmt.Errorf("%w: %w", ErrConnectionLost, err))
			m.mu.Unlock()

			if closeErr := conn.Close(); closeErr != nil {
				m.logger.Debug("Failed to close dropped connection", "error", closeErr)
			}
			m.logger.Warn("Connection lost", "error", err, "failures", st.Failures)
			m.notify(st)
			return
		}
		m.dispatch(data)
	}
}

// Send writes one frame. It never buffers: if the channel is not open it
// returns ErrNotConnected without touching the network.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected && conn != nil
	m.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Subscribe registers listeners and returns an unsubscribe handle. The new
// subscriber immediately receives the current status. The first subscriber
// triggers Connect.
func (m *Manager) Subscribe(onFrame func([]byte), onState func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSubID++
	sub := &subscriber{id: m.nextSubID, onFrame: onFrame, onState: onState}
	m.subs = append(m.subs, sub)
	first := len(m.subs) == 1
	st := m.statusLocked()
	m.mu.Unlock()

	if onState != nil {
		m.dispatchMu.Lock()
		onState(st)
		m.dispatchMu.Unlock()
	}
	if first {
		m.Connect()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub.id) })
	}
}

// Subscribers returns the current reference count.
func (m *Manager) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Manager) unsubscribe(id int64) {
	m.mu.Lock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			break
		}
	}
	if len(m.subs) > 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Debug("Last subscriber left, closing channel")
	m.teardown()
}

// teardown closes the live channel, cancels any pending reconnect, and leaves
// the manager Disconnected with a fresh failure counter. A subscriber that
// arrived while the channel was closing gets a new connection.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	if conn == nil {
		m.resetLocked()
		st := m.statusLocked()
		m.mu.Unlock()
		m.notify(st)
		return
	}
	m.state = Closing
	closing := m.statusLocked()
	m.mu.Unlock()

	m.notify(closing)
	if err := conn.Close(); err != nil {
		m.logger.Debug("Failed to close connection", "error", err)
	}

	m.mu.Lock()
	m.resetLocked()
	st := m.statusLocked()
	resume := len(m.subs) > 0 && !m.disposed
	m.mu.Unlock()
	m.notify(st)

	if resume {
		m.logger.Debug("Subscriber joined during close, reconnecting")
		m.Connect()
	}
}

func (m *Manager) resetLocked() {
	m.state = Disconnected
	m.failures = 0
	m.exhausted = false
	m.lastErr = nil
}

// Dispose tears the channel down for good. Later Connect and Subscribe calls
// never dial again.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.subs = nil
	m.mu.Unlock()
	m.cancel()
	m.logger.Debug("Disposed")
}

func (m *Manager) listeners() []*subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*subscriber, len(m.subs))
	copy(out, m.subs)
	return out
}

func (m *Manager) notify(st Status) {
	subs := m.listeners()
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for _, s := range subs {
		if s.onState != nil {
			s.onState(st)
		}
	}
}

func (m *Manager) dispatch(frame []byte) {
	subs := m.listeners()
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for _, s := range subs {
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}
