package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cadence/internal/types"
)

// manualClock advances only when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingBus captures published signals.
type recordingBus struct {
	mu      sync.Mutex
	signals []types.Signal
}

func (b *recordingBus) Publish(sig types.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, sig)
}

func (b *recordingBus) All() []types.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Signal(nil), b.signals...)
}

// fakeRegistry binds step names to canned executors.
type fakeRegistry struct {
	executors map[string]types.StepExecutor
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{executors: make(map[string]types.StepExecutor)}
}

func (r *fakeRegistry) Resolve(name string) (types.StepExecutor, bool) {
	exec, ok := r.executors[name]
	return exec, ok
}

// bindAll binds every step of a kind to a succeeding executor.
func (r *fakeRegistry) bindAll(kind TaskKind) {
	names, _ := StepTemplate(kind)
	for _, name := range names {
		n := name
		r.executors[n] = func(context.Context, types.StepRequest) types.StepResult {
			return types.StepResult{Success: true, Output: "ok:" + n}
		}
	}
}

// failStep binds one step to fail n times, then succeed.
func (r *fakeRegistry) failStep(name string, failures int) *int {
	calls := new(int)
	r.executors[name] = func(context.Context, types.StepRequest) types.StepResult {
		*calls++
		if *calls <= failures {
			return types.StepResult{Err: fmt.Errorf("induced failure %d", *calls)}
		}
		return types.StepResult{Success: true, Output: "recovered"}
	}
	return calls
}
