package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cadence/internal/logging"
	"cadence/internal/types"
)

// AsyncRunner executes steps in the background and keeps their results for
// later retrieval by id.
type AsyncRunner struct {
	mu      sync.RWMutex
	results map[string]*asyncResult
}

type asyncResult struct {
	result types.StepResult
	done   bool
}

// NewAsyncRunner returns an empty runner.
func NewAsyncRunner() *AsyncRunner {
	return &AsyncRunner{results: make(map[string]*asyncResult)}
}

// ExecuteAsync runs exec in a goroutine under the given id. The result is
// retrievable via GetResult or WaitForResult.
func (a *AsyncRunner) ExecuteAsync(ctx context.Context, id string, exec types.StepExecutor, req types.StepRequest) {
	a.mu.Lock()
	a.results[id] = &asyncResult{}
	a.mu.Unlock()

	go func() {
		result := exec(ctx, req)

		a.mu.Lock()
		if slot, exists := a.results[id]; exists {
			slot.result = result
			slot.done = true
		}
		a.mu.Unlock()

		logging.TaskDebug("async step %s finished (success=%v)", id, result.Success)
	}()
}

// GetResult returns the result for an id and whether it is ready.
func (a *AsyncRunner) GetResult(id string) (types.StepResult, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	slot, exists := a.results[id]
	if !exists {
		return types.StepResult{}, false, fmt.Errorf("no async execution with id %s", id)
	}
	return slot.result, slot.done, nil
}

// WaitForResult polls until the result is ready or ctx expires.
func (a *AsyncRunner) WaitForResult(ctx context.Context, id string) (types.StepResult, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		result, done, err := a.GetResult(id)
		if err != nil {
			return types.StepResult{}, err
		}
		if done {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return types.StepResult{}, fmt.Errorf("timed out waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Forget drops the stored result for an id.
func (a *AsyncRunner) Forget(id string) {
	a.mu.Lock()
	delete(a.results, id)
	a.mu.Unlock()
}
