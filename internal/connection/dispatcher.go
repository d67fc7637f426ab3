package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Observer receives every inbound message.
type Observer interface {
	OnText(text string)
	OnBinary(data []byte)
}

// ObserverFunc adapts a text handler to an Observer. Binary frames are ignored.
type ObserverFunc func(text string)

func (f ObserverFunc) OnText(text string) { f(text) }
func (f ObserverFunc) OnBinary([]byte)    {}

// BinaryObserverFunc adapts a binary handler to an Observer. Text frames are ignored.
type BinaryObserverFunc func(data []byte)

func (f BinaryObserverFunc) OnText(string)        {}
func (f BinaryObserverFunc) OnBinary(data []byte) { f(data) }

// Dispatcher fans inbound messages out to observers in attachment order.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer

	panics atomic.Int64
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Add appends an observer. Existing observers are kept.
func (d *Dispatcher) Add(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Len returns the number of attached observers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// Panics returns how many observer invocations panicked.
func (d *Dispatcher) Panics() int64 {
	return d.panics.Load()
}

// DispatchText delivers a text frame to every observer.
func (d *Dispatcher) DispatchText(text string) {
	for i, o := range d.snapshot() {
		d.invoke(i, func() { o.OnText(text) })
	}
}

// DispatchBinary delivers a binary frame to every observer.
func (d *Dispatcher) DispatchBinary(data []byte) {
	for i, o := range d.snapshot() {
		d.invoke(i, func() { o.OnBinary(data) })
	}
}

// snapshot copies the observer list so observers may call Add while
// being dispatched to.
func (d *Dispatcher) snapshot() []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Observer, len(d.observers))
	copy(out, d.observers)
	return out
}

// invoke runs one observer, recovering a panic so later observers still run.
func (d *Dispatcher) invoke(index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("observer panicked",
				"observer", index,
				"panic", r,
			)
		}
	}()
	fn()
}
