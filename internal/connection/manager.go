package connection

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns one reconnecting connection to the pipeline endpoint.
//
// All methods are safe for concurrent use and from any state. Observers
// and the Config status hooks must not call Shutdown synchronously.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer

	dispatcher *Dispatcher
	scheduler  *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	// Serialises state, retry bookkeeping and the handle.
	mu              sync.Mutex
	state           State
	socket          Socket
	retry           *RetryPolicy
	shouldReconnect bool
	shutdown        bool

	// Status hook events in transition order, delivered by deliver.
	hooks      []hookEvent
	delivering bool

	// Held for reading while observers run; Shutdown takes it for
	// writing to wait out in-flight deliveries.
	dispatchMu sync.RWMutex
	quiesced   bool
}

// NewManager creates a Manager. A nil dialer selects the gorilla/websocket
// transport.
func NewManager(cfg Config, dialer Dialer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("address", cfg.Address)

	cfg.Header = cfg.Header.Clone()
	if dialer == nil {
		dialer = NewWebSocketDialer(cfg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:        cfg,
		logger:     logger,
		dialer:     dialer,
		dispatcher: NewDispatcher(logger),
		scheduler:  NewScheduler(logger),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		retry:      NewRetryPolicy(cfg.MaxRetries, cfg.RetryInterval),
	}
}

// Connect opens the connection unless a handle already exists. An
// explicit Connect re-enables reconnection and resets the retry count.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.shutdown || m.state.hasHandle() {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state)
		return
	}
	// A fresh connect supersedes any reconnect still waiting to fire.
	m.scheduler.Cancel()
	m.retry.Reset()
	m.dialLocked()
	m.mu.Unlock()

	m.deliver()
}

// reconnect is the scheduled retry. Unlike Connect it keeps the retry count.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.shutdown || !m.shouldReconnect || m.state.hasHandle() {
		m.mu.Unlock()
		return
	}
	m.logger.Info("attempting reconnection",
		"attempt", m.retry.Attempts(),
		"max_attempts", m.retry.MaxAttempts(),
	)
	m.dialLocked()
	m.mu.Unlock()

	m.deliver()
}

// dialLocked starts opening a socket. Must be called with mu held.
func (m *Manager) dialLocked() {
	m.shouldReconnect = true
	m.setStateLocked(StateConnecting)

	req := DialRequest{
		Address:        m.cfg.Address,
		Header:         m.cfg.Header,
		ConnectTimeout: m.cfg.ConnectTimeout,
	}
	m.socket = m.dialer.Dial(m.ctx, req, m)

	m.logger.Debug("connecting")
}

// SendMessage hands a text payload to the open socket. Returns false when
// no socket is open or it refused the payload; nothing is queued.
func (m *Manager) SendMessage(text string) bool {
	s := m.openSocket()
	if s == nil {
		m.logger.Debug("cannot send message, not connected")
		return false
	}
	return s.Send(text)
}

// SendBinary hands a binary payload to the open socket.
func (m *Manager) SendBinary(data []byte) bool {
	s := m.openSocket()
	if s == nil {
		m.logger.Debug("cannot send message, not connected")
		return false
	}
	return s.SendBinary(data)
}

func (m *Manager) openSocket() Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown || m.state != StateOpen {
		return nil
	}
	return m.socket
}

// Disconnect closes the connection with a normal-closure code and
// suppresses reconnection, including a reconnect waiting to fire. Without
// a handle it only does the latter.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s := m.detachLocked()
	m.mu.Unlock()

	m.closeSocket(s)
	m.deliver()
}

// detachLocked disables reconnection, drops a reconnect waiting to fire
// and clears the handle. Returns the detached socket, nil if there was
// none. Must be called with mu held.
func (m *Manager) detachLocked() Socket {
	m.shouldReconnect = false
	m.scheduler.Cancel()

	if m.socket == nil {
		return nil
	}
	s := m.socket
	m.socket = nil
	m.setStateLocked(StateClosed)
	return s
}

func (m *Manager) closeSocket(s Socket) {
	if s == nil {
		return
	}
	m.logger.Info("disconnecting")
	if err := s.Close(CloseNormalClosure, closeReasonClient); err != nil {
		m.logger.Debug("close failed", "error", err)
	}
}

// Shutdown disconnects, stops the reconnect worker and waits for
// in-flight observer calls. The Manager is unusable afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	s := m.detachLocked()
	m.mu.Unlock()

	m.closeSocket(s)
	m.deliver()

	m.scheduler.Stop()
	m.cancel()

	m.dispatchMu.Lock()
	m.quiesced = true
	m.dispatchMu.Unlock()

	m.logger.Info("connection manager shut down")
}

// AddObserver appends an observer; earlier observers keep receiving.
func (m *Manager) AddObserver(o Observer) {
	m.dispatcher.Add(o)
}

// AddObserverFunc appends a text handler.
func (m *Manager) AddObserverFunc(fn func(text string)) {
	if fn == nil {
		return
	}
	m.dispatcher.Add(ObserverFunc(fn))
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:           m.state,
		Attempts:        m.retry.Attempts(),
		MaxAttempts:     m.retry.MaxAttempts(),
		ShouldReconnect: m.shouldReconnect,
	}
	m.mu.Unlock()

	stats.Observers = m.dispatcher.Len()
	stats.ReconnectPending = m.scheduler.Pending()
	stats.ObserverPanics = m.dispatcher.Panics()
	return stats
}

// OnOpen handles the transport's open event.
func (m *Manager) OnOpen(s Socket) {
	m.mu.Lock()
	if s != m.socket || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.retry.Reset()
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.logger.Info("connected")
	m.deliver()
}

// OnText delivers an inbound text frame to observers.
func (m *Manager) OnText(s Socket, text string) {
	if !m.deliverable(s) {
		return
	}
	m.dispatchMu.RLock()
	defer m.dispatchMu.RUnlock()
	if m.quiesced {
		return
	}
	m.dispatcher.DispatchText(text)
}

// OnBinary delivers an inbound binary frame to observers.
func (m *Manager) OnBinary(s Socket, data []byte) {
	if !m.deliverable(s) {
		return
	}
	m.dispatchMu.RLock()
	defer m.dispatchMu.RUnlock()
	if m.quiesced {
		return
	}
	m.dispatcher.DispatchBinary(data)
}

func (m *Manager) deliverable(s Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.shutdown && s == m.socket && m.state == StateOpen
}

// OnClosing handles the peer starting the close handshake.
func (m *Manager) OnClosing(s Socket, code int, reason string) {
	m.mu.Lock()
	if s != m.socket {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	m.logger.Debug("closing", "code", code, "reason", reason)
	m.deliver()
}

// OnClosed handles completion of the close handshake.
func (m *Manager) OnClosed(s Socket, code int, reason string) {
	m.mu.Lock()
	if s != m.socket || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.logger.Info("connection closed", "code", code, "reason", reason)
	m.terminated()
}

// OnFailure handles a transport failure.
func (m *Manager) OnFailure(s Socket, err error) {
	m.mu.Lock()
	if s != m.socket {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("connection failed", "error", err)
	m.terminated()
}

// terminated clears the handle and runs the reconnect decision. Called
// with mu held; releases it.
func (m *Manager) terminated() {
	m.socket = nil
	m.setStateLocked(StateClosed)

	if m.shouldReconnect && !m.shutdown {
		delay, ok := m.retry.Next()
		attempts := m.retry.Attempts()
		if ok {
			m.scheduler.Schedule(delay, m.reconnect)
			m.logger.Info("connection lost, scheduling reconnect",
				"delay", delay,
				"attempt", attempts,
				"max_attempts", m.retry.MaxAttempts(),
			)
		} else {
			m.hooks = append(m.hooks, hookEvent{exhausted: true, attempts: attempts})
			m.logger.Warn("reconnect attempts exhausted, giving up",
				"max_attempts", m.retry.MaxAttempts(),
			)
		}
	}
	m.mu.Unlock()

	m.deliver()
}

// hookEvent is a pending status hook call: a state transition, or
// retry exhaustion when exhausted is set.
type hookEvent struct {
	old, new  State
	exhausted bool
	attempts  int
}

// setStateLocked records a transition and queues its hook. Must be called
// with mu held.
func (m *Manager) setStateLocked(s State) {
	if s != m.state {
		m.hooks = append(m.hooks, hookEvent{old: m.state, new: s})
	}
	m.state = s
}

// deliver runs queued status hooks outside the lock, one goroutine at a
// time and in the order the transitions happened. If another goroutine is
// already delivering, it picks up the new events and deliver returns at
// once; hooks may therefore call back into the Manager.
func (m *Manager) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.hooks) > 0 {
		ev := m.hooks[0]
		m.hooks = m.hooks[1:]
		m.mu.Unlock()

		m.runHook(ev)

		m.mu.Lock()
	}
	m.hooks = nil
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) runHook(ev hookEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status hook panicked", "panic", r)
		}
	}()

	if ev.exhausted {
		if m.cfg.OnRetriesExhausted != nil {
			m.cfg.OnRetriesExhausted(ev.attempts)
		}
		return
	}
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(ev.old, ev.new)
	}
}
