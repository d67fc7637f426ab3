package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs at most one delayed action at a time on a single
// background worker.
//
// Schedule and Cancel never block on the worker, so they may be called
// from inside a running action. Stop must not be.
type Scheduler struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	gen     uint64
	next    *scheduled
	stopped bool
}

type scheduled struct {
	gen      uint64
	deadline time.Time
	action   func()
}

// NewScheduler creates a scheduler and starts its worker.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule arranges for action to run once after delay, replacing any
// pending action. Returns false if the scheduler has been stopped.
func (s *Scheduler) Schedule(delay time.Duration, action func()) bool {
	if action == nil {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.gen++
	s.next = &scheduled{
		gen:      s.gen,
		deadline: time.Now().Add(delay),
		action:   action,
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// Cancel drops the pending action. Once Cancel returns the dropped action
// cannot start.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.stopped || s.next == nil {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.next = nil
	s.mu.Unlock()

	s.notify()
}

// Pending reports whether an action is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next != nil
}

// Stop cancels any pending action, stops the worker and waits for it to
// exit, including an action that is already running. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.gen++
	s.next = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// claim takes the pending action if it is still generation gen.
func (s *Scheduler) claim(gen uint64) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.next == nil || s.next.gen != gen {
		return nil
	}
	fn := s.next.action
	s.next = nil
	return fn
}

func (s *Scheduler) run() {
	defer close(s.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
		gen   uint64
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire = nil, nil
	}
	defer disarm()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.wake:
			s.mu.Lock()
			next := s.next
			s.mu.Unlock()

			disarm()
			if next != nil {
				gen = next.gen
				timer = time.NewTimer(time.Until(next.deadline))
				fire = timer.C
			}

		case <-fire:
			timer, fire = nil, nil
			fn := s.claim(gen)
			if fn == nil {
				continue
			}
			s.runAction(fn)
		}
	}
}

func (s *Scheduler) runAction(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled action panicked", "panic", r)
		}
	}()
	fn()
}
