package types

import (
	"sync"
	"time"
)

// SignalKind names a lifecycle event the core emits.
type SignalKind string

const (
	SignalConversationEnded   SignalKind = "conversation-ended"
	SignalCycleFinalized      SignalKind = "cycle-finalized"
	SignalRecordStatusChanged SignalKind = "record-status-changed"
)

// Signal is one fire-and-forget lifecycle event. CycleIteration is read at
// the moment the event fires, not when the session was created, so listeners
// see the iteration in which the session actually closed.
type Signal struct {
	Kind           SignalKind
	SessionID      string
	CycleID        string
	CycleIteration int
	Reason         string
	Duration       time.Duration
	Counts         map[string]int
}

// SignalBus delivers signals to downstream listeners. Delivery is
// best-effort: the core never retries and never blocks a state transition
// on a listener.
type SignalBus interface {
	Publish(sig Signal)
}

// Bus is a simple fan-out SignalBus. Listener panics are swallowed so a bad
// listener cannot abort the state transition that fired the signal.
type Bus struct {
	mu        sync.RWMutex
	listeners []func(Signal)
}

// NewBus returns an empty fan-out bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers a listener for all signals.
func (b *Bus) Subscribe(fn func(Signal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Publish delivers sig to every listener in subscription order.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	listeners := make([]func(Signal), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() { _ = recover() }()
			fn(sig)
		}()
	}
}

// NopBus discards every signal. Used when no downstream listener is wired.
type NopBus struct{}

func (NopBus) Publish(Signal) {}
