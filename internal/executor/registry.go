// Package executor provides the step-executor registry consumed by task
// sessions, with built-in executors for every task kind. Executors
// communicate across steps of one session through a per-session scratch
// space keyed by session id.
package executor

import (
	"context"
	"fmt"
	"sync"

	"cadence/internal/logging"
	"cadence/internal/types"
)

// ModuleHook is an in-process integration point invoked by the
// module-integration task kind.
type ModuleHook func(ctx context.Context, payload string) (string, error)

// Registry maps step names to executors. It satisfies
// types.ExecutorRegistry and is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]types.StepExecutor
	modules   map[string]ModuleHook

	// scratch holds per-session intermediate values (e.g. command output
	// produced by one step and collected by a later one).
	scratch sync.Map // sessionID -> *sessionScratch
}

type sessionScratch struct {
	mu     sync.Mutex
	values map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]types.StepExecutor),
		modules:   make(map[string]ModuleHook),
	}
}

// NewDefaultRegistry returns a registry with every built-in step bound.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.bindSystemCommand()
	r.bindFileOperation()
	r.bindWorkflowAutomation()
	r.bindModuleIntegration()
	r.bindCustom()
	return r
}

// Register binds a step name to an executor, replacing any previous binding.
func (r *Registry) Register(name string, exec types.StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
}

// Resolve returns the executor bound to a step name.
func (r *Registry) Resolve(name string) (types.StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	return exec, ok
}

// RegisterModule exposes an in-process hook to module-integration tasks.
func (r *Registry) RegisterModule(name string, hook ModuleHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = hook
	logging.TaskDebug("module hook registered: %s", name)
}

func (r *Registry) module(name string) (ModuleHook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.modules[name]
	return hook, ok
}

// put stores a per-session intermediate value.
func (r *Registry) put(sessionID, key, value string) {
	raw, _ := r.scratch.LoadOrStore(sessionID, &sessionScratch{values: make(map[string]string)})
	s := raw.(*sessionScratch)
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// get reads a per-session intermediate value.
func (r *Registry) get(sessionID, key string) (string, bool) {
	raw, ok := r.scratch.Load(sessionID)
	if !ok {
		return "", false
	}
	s := raw.(*sessionScratch)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Release drops the scratch space for a finished session.
func (r *Registry) Release(sessionID string) {
	r.scratch.Delete(sessionID)
}

func fail(format string, args ...interface{}) types.StepResult {
	return types.StepResult{Err: fmt.Errorf(format, args...)}
}

func ok(output string) types.StepResult {
	return types.StepResult{Success: true, Output: output}
}
