package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket records what the manager does with a handle.
type fakeSocket struct {
	req DialRequest

	mu          sync.Mutex
	sent        []string
	sentBinary  [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func (s *fakeSocket) Send(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sent = append(s.sent, text)
	return true
}

func (s *fakeSocket) SendBinary(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sentBinary = append(s.sentBinary, data)
	return true
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	return nil
}

func (s *fakeSocket) isClosed() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode
}

// fakeDialer hands out fakeSockets; tests drive the sink by hand.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest, sink Sink) Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSocket{req: req}
	d.sockets = append(d.sockets, s)
	return s
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "ws://pipeline.test/"
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.MaxRetries = 5
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	m := NewManager(cfg, d, nil)
	t.Cleanup(m.Shutdown)
	return m, d
}

var errDrop = errors.New("connection reset by peer")

func TestManager_ConnectIsIdempotent(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Connect()
	m.Connect()
	require.Equal(t, 1, d.count())
	assert.Equal(t, StateConnecting, m.State())

	m.OnOpen(d.last())
	m.Connect()
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_DialUsesConfiguredHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.Header = http.Header{}
	cfg.Header.Set("User-Agent", "pipeline-client/test")

	m, d := newTestManager(t, cfg)

	// Mutating the caller's header must not leak into the manager.
	cfg.Header.Set("User-Agent", "changed")

	m.Connect()
	req := d.last().req
	assert.Equal(t, "ws://pipeline.test/", req.Address)
	assert.Equal(t, "pipeline-client/test", req.Header.Get("User-Agent"))
	assert.Equal(t, cfg.ConnectTimeout, req.ConnectTimeout)
}

func TestManager_SendMessageOnlyWhenOpen(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	assert.False(t, m.SendMessage("idle"), "idle")

	m.Connect()
	s := d.last()
	assert.False(t, m.SendMessage("connecting"), "connecting")

	m.OnOpen(s)
	assert.True(t, m.SendMessage("open"))
	assert.True(t, m.SendBinary([]byte{1, 2}))

	m.OnClosing(s, 1001, "going away")
	assert.Equal(t, StateClosing, m.State())
	assert.False(t, m.SendMessage("closing"), "closing")

	m.OnClosed(s, 1001, "going away")
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.SendMessage("closed"), "closed")

	assert.Equal(t, []string{"open"}, s.sent)
	assert.Len(t, s.sentBinary, 1)
}

func TestManager_OpenResetsAttempts(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Connect()
	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)

	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.Stats().Attempts)

	m.OnOpen(d.last())
	assert.Equal(t, 0, m.Stats().Attempts)
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_RetriesExhausted(t *testing.T) {
	var (
		mu        sync.Mutex
		exhausted []int
	)
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.OnRetriesExhausted = func(attempts int) {
		mu.Lock()
		exhausted = append(exhausted, attempts)
		mu.Unlock()
	}

	m, d := newTestManager(t, cfg)

	m.Connect()
	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)

	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 3 }, time.Second, 5*time.Millisecond)

	m.OnFailure(d.last(), errDrop)
	assert.False(t, m.Stats().ReconnectPending, "no timer after the budget is spent")

	time.Sleep(5 * cfg.RetryInterval)
	assert.Equal(t, 3, d.count(), "exactly 2 reconnect attempts")
	assert.Equal(t, StateClosed, m.State())

	stats := m.Stats()
	assert.Equal(t, 2, stats.Attempts)
	assert.Equal(t, 2, stats.MaxAttempts)

	mu.Lock()
	assert.Equal(t, []int{2}, exhausted)
	mu.Unlock()
}

func TestManager_ConnectAfterExhaustionResumes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	m, d := newTestManager(t, cfg)

	m.Connect()
	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)
	m.OnFailure(d.last(), errDrop)
	require.Equal(t, StateClosed, m.State())

	m.Connect()
	assert.Equal(t, 3, d.count())
	assert.Equal(t, 0, m.Stats().Attempts)

	// The budget is available again.
	m.OnFailure(d.last(), errDrop)
	require.Eventually(t, func() bool { return d.count() == 4 }, time.Second, 5*time.Millisecond)
}

func TestManager_ZeroRetriesNeverReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	m, d := newTestManager(t, cfg)

	m.Connect()
	m.OnOpen(d.last())
	m.OnClosed(d.last(), 1006, "")

	time.Sleep(5 * cfg.RetryInterval)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_DisconnectSuppressesReconnect(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Connect()
	s := d.last()
	m.OnOpen(s)

	m.Disconnect()
	closed, code := s.isClosed()
	assert.True(t, closed)
	assert.Equal(t, CloseNormalClosure, code)
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.Stats().ShouldReconnect)

	// The transport finishes the close handshake afterwards.
	m.OnClosing(s, 1000, "normal")
	m.OnClosed(s, 1000, "normal")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.False(t, m.Stats().ReconnectPending)
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = 50 * time.Millisecond
	m, d := newTestManager(t, cfg)

	m.Connect()
	m.OnFailure(d.last(), errDrop)
	require.True(t, m.Stats().ReconnectPending)

	m.Disconnect()
	assert.False(t, m.Stats().ReconnectPending)

	time.Sleep(3 * cfg.RetryInterval)
	assert.Equal(t, 1, d.count())
}

func TestManager_DisconnectWithoutHandle(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, d.count())
}

func TestManager_StaleSocketEventsIgnored(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Connect()
	old := d.last()
	m.OnOpen(old)
	m.Disconnect()

	m.Connect()
	current := d.last()
	require.NotSame(t, old, current)

	// Late events from the first socket must not touch the new one.
	m.OnClosed(old, 1000, "normal")
	m.OnFailure(old, errDrop)
	m.OnOpen(old)
	assert.Equal(t, StateConnecting, m.State())

	m.OnOpen(current)
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_ObserversReceiveInOrder(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	var (
		mu  sync.Mutex
		got []string
	)
	m.AddObserverFunc(func(text string) {
		mu.Lock()
		got = append(got, "first:"+text)
		mu.Unlock()
	})
	m.AddObserverFunc(func(text string) {
		mu.Lock()
		got = append(got, "second:"+text)
		mu.Unlock()
	})
	m.AddObserver(BinaryObserverFunc(func(data []byte) {
		mu.Lock()
		got = append(got, "binary:"+string(data))
		mu.Unlock()
	}))

	m.Connect()
	s := d.last()

	// Not open yet: nothing is delivered.
	m.OnText(s, "early")

	m.OnOpen(s)
	m.OnText(s, "a")
	m.OnText(s, "b")
	m.OnBinary(s, []byte("c"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b", "binary:c"}, got)
	assert.Equal(t, 3, m.Stats().Observers)
}

func TestManager_FailingObserverDoesNotBlockOthers(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	var delivered int
	m.AddObserverFunc(func(string) { panic("boom") })
	m.AddObserverFunc(func(string) { delivered++ })

	m.Connect()
	m.OnOpen(d.last())
	m.OnText(d.last(), "hello")

	assert.Equal(t, 1, delivered)
	assert.Equal(t, int64(1), m.Stats().ObserverPanics)
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_ShutdownStopsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = 50 * time.Millisecond
	m, d := newTestManager(t, cfg)

	var delivered int
	m.AddObserverFunc(func(string) { delivered++ })

	m.Connect()
	first := d.last()
	m.OnOpen(first)
	m.OnFailure(first, errDrop)
	require.True(t, m.Stats().ReconnectPending)

	m.Shutdown()

	time.Sleep(3 * cfg.RetryInterval)
	assert.Equal(t, 1, d.count(), "pending reconnect must not fire")

	m.OnText(first, "after shutdown")
	assert.Equal(t, 0, delivered)

	// Every operation is a safe no-op now.
	m.Connect()
	assert.Equal(t, 1, d.count())
	assert.False(t, m.SendMessage("x"))
	m.Disconnect()
	m.Shutdown()
}

func TestManager_ShutdownClosesOpenSocket(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.Connect()
	s := d.last()
	m.OnOpen(s)

	m.Shutdown()
	closed, code := s.isClosed()
	assert.True(t, closed)
	assert.Equal(t, CloseNormalClosure, code)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ShutdownWaitsForObservers(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	m.AddObserverFunc(func(string) {
		close(started)
		<-release
		finished = true
	})

	m.Connect()
	s := d.last()
	m.OnOpen(s)
	go m.OnText(s, "slow")
	<-started

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Shutdown returned while an observer was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
	assert.True(t, finished)
}

func TestManager_StateChangeHook(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cfg := testConfig()
	cfg.OnStateChange = func(old, new State) {
		mu.Lock()
		transitions = append(transitions, old.String()+"->"+new.String())
		mu.Unlock()
	}
	m, d := newTestManager(t, cfg)

	m.Connect()
	s := d.last()
	m.OnOpen(s)
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"idle->connecting", "connecting->open", "open->closed"}, transitions)
}

func TestManager_StatusHooksDeliveredInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	entered := make(chan struct{})
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.OnStateChange = func(old, new State) {
		if new == StateOpen {
			// Hold the open hook so the failure below happens while it runs.
			close(entered)
			time.Sleep(50 * time.Millisecond)
		}
		record(old.String() + "->" + new.String())
	}
	cfg.OnRetriesExhausted = func(attempts int) { record("exhausted") }
	m, d := newTestManager(t, cfg)

	m.Connect()
	s := d.last()
	go m.OnOpen(s)
	<-entered
	m.OnFailure(s, errDrop)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"idle->connecting",
		"connecting->open",
		"open->closed",
		"exhausted",
	}, events)
}

func TestManager_HookMayReenter(t *testing.T) {
	var transitions []string
	var m *Manager
	cfg := testConfig()
	cfg.OnStateChange = func(old, new State) {
		transitions = append(transitions, old.String()+"->"+new.String())
		if new == StateOpen {
			m.Disconnect()
		}
	}
	m, d := newTestManager(t, cfg)

	m.Connect()
	m.OnOpen(d.last())

	assert.Equal(t, []string{"idle->connecting", "connecting->open", "open->closed"}, transitions)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_PanickingHookIsContained(t *testing.T) {
	cfg := testConfig()
	cfg.OnStateChange = func(old, new State) { panic("hook failure") }
	m, d := newTestManager(t, cfg)

	assert.NotPanics(t, func() {
		m.Connect()
		m.OnOpen(d.last())
	})
	assert.Equal(t, StateOpen, m.State())

	// Delivery continues after a panic.
	assert.NotPanics(t, m.Disconnect)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ObserverMayCallBack(t *testing.T) {
	m, d := newTestManager(t, testConfig())

	m.AddObserverFunc(func(text string) {
		if text == "ping" {
			m.SendMessage("pong")
		}
		if text == "bye" {
			m.Disconnect()
		}
	})

	m.Connect()
	s := d.last()
	m.OnOpen(s)
	m.OnText(s, "ping")
	m.OnText(s, "bye")

	assert.Equal(t, []string{"pong"}, s.sent)
	assert.Equal(t, StateClosed, m.State())
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
		State(42):       "unknown(42)",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.RetryInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 256, cfg.SendQueueSize)
}
