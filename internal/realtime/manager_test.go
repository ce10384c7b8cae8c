package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDialRefused = errors.New("connection refused")

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	gate  chan struct{}
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.fail
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errDialRefused
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type stateRecorder struct {
	mu     sync.Mutex
	states []Status
}

func (r *stateRecorder) record(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *stateRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.states...)
}

func testConfig() Config {
	return Config{URL: "ws://test/ws", RetryLimit: 5, BaseDelay: time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	unsubscribe := m.Subscribe(nil, nil)
	defer unsubscribe()

	waitFor(t, func() bool { return m.Status().State == Connecting })
	m.Connect()
	m.Connect()
	close(dialer.gate)

	waitFor(t, func() bool { return m.Status().State == Connected })
	m.Connect()

	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_SendWithoutConnectionFails(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	err := m.Send(context.Background(), []byte(`{"kind":"ping"}`))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, dialer.dialCount())
}

func TestManager_SendWritesToOpenChannel(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	unsubscribe := m.Subscribe(nil, nil)
	defer unsubscribe()
	waitFor(t, func() bool { return m.Status().State == Connected })

	require.NoError(t, m.Send(context.Background(), []byte("frame")))
	assert.Equal(t, [][]byte{[]byte("frame")}, dialer.conn(0).written())
}

func TestManager_RetriesExhaustedAfterFiveFailures(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	rec := &stateRecorder{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	unsubscribe := m.Subscribe(nil, rec.record)
	defer unsubscribe()

	waitFor(t, func() bool { return m.Status().RetriesExhausted })
	time.Sleep(20 * time.Millisecond)

	st := m.Status()
	assert.Equal(t, Disconnected, st.State)
	assert.Equal(t, 5, st.Failures)
	assert.ErrorIs(t, st.LastError, ErrRetriesExhausted)
	assert.Equal(t, 5, dialer.dialCount(), "no automatic attempt after the budget is spent")

	states := rec.all()
	require.NotEmpty(t, states)
	assert.True(t, states[len(states)-1].RetriesExhausted, "exhaustion is surfaced to subscribers")

	dialer.setFail(false)
	m.Connect()
	waitFor(t, func() bool { return m.Status().State == Connected })
	assert.Equal(t, 0, m.Status().Failures)
	assert.False(t, m.Status().RetriesExhausted)
	assert.Equal(t, 6, dialer.dialCount())
}

func TestManager_RetryDelayGrowsLinearly(t *testing.T) {
	m := NewManager(Config{URL: "ws://test/ws", BaseDelay: 250 * time.Millisecond}, &fakeDialer{}, nil)
	defer m.Dispose()

	assert.Equal(t, 250*time.Millisecond, m.retryDelay(1))
	assert.Equal(t, 500*time.Millisecond, m.retryDelay(2))
	assert.Equal(t, 1250*time.Millisecond, m.retryDelay(5))
}

func TestManager_DeliversFramesInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	var mu sync.Mutex
	var got []string
	unsubscribe := m.Subscribe(func(frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(frame))
	}, nil)
	defer unsubscribe()

	waitFor(t, func() bool { return m.Status().State == Connected })
	conn := dialer.conn(0)
	for _, f := range []string{"a", "b", "c", "d"} {
		conn.frames <- []byte(f)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &stateRecorder{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	unsubscribe := m.Subscribe(nil, rec.record)
	defer unsubscribe()
	waitFor(t, func() bool { return m.Status().State == Connected })

	require.NoError(t, dialer.conn(0).Close())

	waitFor(t, func() bool { return dialer.dialCount() == 2 && m.Status().State == Connected })
	assert.Equal(t, 0, m.Status().Failures)

	var sawLoss bool
	for _, st := range rec.all() {
		if st.State == Disconnected && errors.Is(st.LastError, ErrConnectionLost) {
			sawLoss = true
		}
	}
	assert.True(t, sawLoss, "drop is reported as a Disconnected status")
}

func TestManager_LastUnsubscribeClosesWithoutReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	first := m.Subscribe(nil, nil)
	second := m.Subscribe(nil, nil)
	waitFor(t, func() bool { return m.Status().State == Connected })
	assert.Equal(t, 2, m.Subscribers())

	first()
	first()
	assert.Equal(t, Connected, m.Status().State, "remaining subscriber keeps the channel open")

	second()
	assert.Equal(t, Disconnected, m.Status().State)
	assert.True(t, dialer.conn(0).isClosed())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 0, m.Subscribers())
}

func TestManager_SubscribeWhileClosingReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	first := m.Subscribe(nil, nil)
	waitFor(t, func() bool { return m.Status().State == Connected })

	var second func()
	dialer.conn(0).onClose = func() {
		assert.Equal(t, Closing, m.Status().State)
		second = m.Subscribe(nil, nil)
	}
	first()
	require.NotNil(t, second)
	defer second()

	waitFor(t, func() bool { return m.Status().State == Connected })
	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, 1, m.Subscribers())
	assert.False(t, dialer.conn(1).isClosed())
}

func TestManager_TeardownDuringDialDiscardsConnection(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(testConfig(), dialer, nil)
	defer m.Dispose()

	unsubscribe := m.Subscribe(nil, nil)
	waitFor(t, func() bool { return dialer.dialCount() == 1 })
	unsubscribe()
	close(dialer.gate)

	waitFor(t, func() bool { return dialer.conn(0) != nil })
	waitFor(t, func() bool { return dialer.conn(0).isClosed() })
	assert.Equal(t, Disconnected, m.Status().State)
}

func TestManager_DisposeStopsFurtherConnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil)
	m.Dispose()

	m.Connect()
	unsubscribe := m.Subscribe(nil, nil)
	defer unsubscribe()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, dialer.dialCount())
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		origin  string
		want    string
		wantErr bool
	}{
		{origin: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{origin: "https://console.example.com/", want: "wss://console.example.com/ws"},
		{origin: "https://example.com/app?x=1#top", want: "wss://example.com/app/ws"},
		{origin: "wss://example.com", want: "wss://example.com/ws"},
		{origin: "ftp://example.com", wantErr: true},
		{origin: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ChannelURL(tt.origin)
		if tt.wantErr {
			assert.Error(t, err, tt.origin)
			continue
		}
		require.NoError(t, err, tt.origin)
		assert.Equal(t, tt.want, got)
	}
}
