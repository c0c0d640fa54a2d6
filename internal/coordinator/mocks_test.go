package coordinator

import (
	"context"
	"sync"
	"time"

	"cadence/internal/types"
)

// manualClock is advanced by hand so timeout tests are deterministic.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingBus collects published signals for assertions.
type recordingBus struct {
	mu      sync.Mutex
	signals []types.Signal
}

func (b *recordingBus) Publish(s types.Signal) {
	b.mu.Lock()
	b.signals = append(b.signals, s)
	b.mu.Unlock()
}

func (b *recordingBus) byKind(kind types.SignalKind) []types.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Signal
	for _, s := range b.signals {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// fakeRegistry resolves every step name to a succeeding executor unless an
// override is registered. It tracks scratch releases.
type fakeRegistry struct {
	mu        sync.Mutex
	released  []string
	overrides map[string]types.StepExecutor
}

func (f *fakeRegistry) Resolve(name string) (types.StepExecutor, bool) {
	f.mu.Lock()
	override, ok := f.overrides[name]
	f.mu.Unlock()
	if ok {
		return override, true
	}
	return func(_ context.Context, req types.StepRequest) types.StepResult {
		return types.StepResult{Success: true, Output: req.StepName + " done"}
	}, true
}

func (f *fakeRegistry) Release(sessionID string) {
	f.mu.Lock()
	f.released = append(f.released, sessionID)
	f.mu.Unlock()
}

func (f *fakeRegistry) override(name string, exec types.StepExecutor) {
	f.mu.Lock()
	if f.overrides == nil {
		f.overrides = make(map[string]types.StepExecutor)
	}
	f.overrides[name] = exec
	f.mu.Unlock()
}

// fakeClassifier returns canned segments regardless of the utterance.
type fakeClassifier struct {
	segments []types.IntentSegment
	err      error
}

func (f *fakeClassifier) Classify(context.Context, string) ([]types.IntentSegment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

// fakeKeeper records which trigger kinds had penalties applied.
type fakeKeeper struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (f *fakeKeeper) ApplyCyclePenalties(kind string) error {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()
	return f.err
}
