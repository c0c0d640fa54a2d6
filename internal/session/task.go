package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cadence/internal/logging"
	"cadence/internal/types"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a TaskSession.
type TaskStatus int32

const (
	TaskInitializing TaskStatus = iota
	TaskReady
	TaskExecuting
	TaskWaiting
	TaskPaused
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskInitializing:
		return "initializing"
	case TaskReady:
		return "ready"
	case TaskExecuting:
		return "executing"
	case TaskWaiting:
		return "waiting"
	case TaskPaused:
		return "paused"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the task can change state again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskKind selects the step template a task is built from.
type TaskKind string

const (
	TaskSystemCommand      TaskKind = "system-command"
	TaskFileOperation      TaskKind = "file-operation"
	TaskWorkflowAutomation TaskKind = "workflow-automation"
	TaskModuleIntegration  TaskKind = "module-integration"
	TaskCustom             TaskKind = "custom"
)

// stepTemplates maps each task kind to its fixed, ordered step names.
var stepTemplates = map[TaskKind][]string{
	TaskSystemCommand:      {"validate-command", "execute-command", "collect-output"},
	TaskFileOperation:      {"resolve-path", "check-permissions", "perform-operation", "verify-result"},
	TaskWorkflowAutomation: {"load-workflow", "validate-steps", "run-workflow", "summarize-run"},
	TaskModuleIntegration:  {"resolve-module", "invoke-module", "collect-response"},
	TaskCustom:             {"load-script", "run-script", "capture-result"},
}

// StepTemplate returns the ordered step names for a kind.
func StepTemplate(kind TaskKind) ([]string, bool) {
	names, ok := stepTemplates[kind]
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

// MaxStepRetries is the per-step retry budget.
const MaxStepRetries = 3

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one unit of task work.
type Step struct {
	ID        string
	Name      string
	Kind      TaskKind
	Status    StepStatus
	Retries   int
	Result    string
	ErrMsg    string
	StartedAt time.Time
	EndedAt   time.Time

	executor types.StepExecutor
}

// Duration returns how long the step ran, zero if it never started.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// StepOutcome reports the result of one ExecuteNextStep call. It is a
// result value, never an error: invalid-state calls are reported here and
// leave the session unchanged.
type StepOutcome struct {
	OK            bool
	Message       string
	StepName      string
	SessionDone   bool
	SessionFailed bool
}

// Progress is a never-failing view of task completion.
type Progress struct {
	Completed int
	Total     int
	Percent   float64
}

// TaskSession tracks one multi-step task nested inside a cycle. Steps are
// generated from the task kind at construction and bound to executors by
// name.
type TaskSession struct {
	mu sync.RWMutex

	state    int32 // TaskStatus, accessed atomically
	prePause int32 // status to restore on Resume

	id            string
	owningCycleID string
	kind          TaskKind
	definition    map[string]string

	steps   []*Step
	current int

	finalResult string
	failReason  string
	waitPrompt  string

	createdAt    time.Time
	endedAt      time.Time
	lastActivity time.Time

	clock types.Clock
	bus   types.SignalBus
}

// NewTaskSession builds a task from its kind's step template. Step names
// that the registry cannot resolve are bound to a failing executor and
// logged; the construction itself still succeeds so the failure surfaces
// through the normal retry path.
func NewTaskSession(owningCycleID string, kind TaskKind, definition map[string]string, registry types.ExecutorRegistry, clock types.Clock, bus types.SignalBus) (*TaskSession, error) {
	template, ok := stepTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if bus == nil {
		bus = types.NopBus{}
	}

	now := clock.Now()
	ws := &TaskSession{
		id:            "ws-" + uuid.NewString(),
		owningCycleID: owningCycleID,
		kind:          kind,
		definition:    copyMap(definition),
		createdAt:     now,
		lastActivity:  now,
		clock:         clock,
		bus:           bus,
	}

	for _, name := range template {
		step := &Step{
			ID:     "step-" + uuid.NewString(),
			Name:   name,
			Kind:   kind,
			Status: StepPending,
		}
		if registry != nil {
			if exec, found := registry.Resolve(name); found {
				step.executor = exec
			}
		}
		if step.executor == nil {
			logging.Task("task %s: no executor bound for step %s", ws.id, name)
			missing := name
			step.executor = func(context.Context, types.StepRequest) types.StepResult {
				return types.StepResult{Err: fmt.Errorf("no executor registered for step %s", missing)}
			}
		}
		ws.steps = append(ws.steps, step)
	}

	logging.Task("task %s created (kind=%s, steps=%d, cycle=%s)", ws.id, kind, len(ws.steps), owningCycleID)
	return ws, nil
}

func (w *TaskSession) ID() string            { return w.id }
func (w *TaskSession) OwningCycleID() string { return w.owningCycleID }
func (w *TaskSession) Kind() TaskKind        { return w.kind }

// Status returns the current lifecycle state.
func (w *TaskSession) Status() TaskStatus {
	return TaskStatus(atomic.LoadInt32(&w.state))
}

// CreatedAt returns the construction time.
func (w *TaskSession) CreatedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.createdAt
}

// LastActivity returns the time of the most recent step activity.
func (w *TaskSession) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastActivity
}

// Initialize moves the task from initializing to ready.
func (w *TaskSession) Initialize() error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(TaskInitializing), int32(TaskReady)) {
		return fmt.Errorf("task %s cannot initialize from %s", w.id, w.Status())
	}
	return nil
}

// StartExecution begins running steps. Only valid from ready.
func (w *TaskSession) StartExecution() error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(TaskReady), int32(TaskExecuting)) {
		return fmt.Errorf("task %s cannot start execution from %s", w.id, w.Status())
	}
	w.touch()
	logging.Task("task %s executing", w.id)
	return nil
}

// ExecuteNextStep runs the current step. On success it advances (completing
// the session after the last step); on failure it retries the same step up
// to MaxStepRetries and then fails the whole session.
func (w *TaskSession) ExecuteNextStep(ctx context.Context) StepOutcome {
	if w.Status() != TaskExecuting {
		return StepOutcome{
			Message: fmt.Sprintf("task %s is %s, not executing", w.id, w.Status()),
		}
	}

	w.mu.Lock()
	if w.current >= len(w.steps) {
		outcome := w.completeLocked()
		w.mu.Unlock()
		return outcome
	}

	step := w.steps[w.current]
	step.Status = StepExecuting
	step.StartedAt = w.clock.Now()
	w.lastActivity = step.StartedAt
	req := types.StepRequest{
		SessionID:  w.id,
		StepName:   step.Name,
		TaskKind:   string(w.kind),
		Definition: copyMap(w.definition),
		Attempt:    step.Retries + 1,
	}
	exec := step.executor
	w.mu.Unlock()

	// Executors can block; run them outside the session lock.
	result := runStep(ctx, exec, req)

	w.mu.Lock()
	now := w.clock.Now()
	step.EndedAt = now
	w.lastActivity = now

	if result.Success {
		step.Status = StepCompleted
		step.Result = result.Output
		w.current++
		logging.TaskDebug("task %s step %s completed (%d/%d)", w.id, step.Name, w.current, len(w.steps))
		if w.current >= len(w.steps) {
			outcome := w.completeLocked()
			w.mu.Unlock()
			return outcome
		}
		w.mu.Unlock()
		return w.ExecuteNextStep(ctx)
	}

	if result.Err != nil {
		step.ErrMsg = result.Err.Error()
	} else {
		step.ErrMsg = "step failed"
	}

	if step.Retries < MaxStepRetries {
		step.Retries++
		step.Status = StepPending
		logging.Task("task %s step %s failed, retry %d/%d: %s", w.id, step.Name, step.Retries, MaxStepRetries, step.ErrMsg)
		w.mu.Unlock()
		return w.ExecuteNextStep(ctx)
	}

	step.Status = StepFailed
	w.failReason = fmt.Sprintf("step %s failed after %d retries: %s", step.Name, MaxStepRetries, step.ErrMsg)
	w.endedAt = now
	w.mu.Unlock()

	atomic.StoreInt32(&w.state, int32(TaskFailed))
	logging.Task("task %s failed: %s", w.id, w.failReason)
	return StepOutcome{
		StepName:      step.Name,
		Message:       w.failReason,
		SessionFailed: true,
	}
}

// runStep isolates executor panics so a bad executor reads as a failed step.
func runStep(ctx context.Context, exec types.StepExecutor, req types.StepRequest) (result types.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = types.StepResult{Err: fmt.Errorf("step %s panicked: %v", req.StepName, r)}
		}
	}()
	return exec(ctx, req)
}

// completeLocked aggregates step results into the final report and marks
// the session completed. Caller must hold w.mu.
func (w *TaskSession) completeLocked() StepOutcome {
	var report strings.Builder
	for _, step := range w.steps {
		fmt.Fprintf(&report, "%s: %s", step.Name, step.Status)
		if step.Result != "" {
			fmt.Fprintf(&report, " (%s)", step.Result)
		}
		report.WriteString("\n")
	}
	w.finalResult = report.String()
	w.endedAt = w.clock.Now()

	atomic.StoreInt32(&w.state, int32(TaskCompleted))
	logging.Task("task %s completed (%d steps)", w.id, len(w.steps))
	return StepOutcome{
		OK:          true,
		Message:     "all steps completed",
		SessionDone: true,
	}
}

// RunToCompletion initializes, starts, and drives the task until it reaches
// a terminal or waiting state. Convenience path for the coordinator.
func (w *TaskSession) RunToCompletion(ctx context.Context) StepOutcome {
	if w.Status() == TaskInitializing {
		if err := w.Initialize(); err != nil {
			return StepOutcome{Message: err.Error()}
		}
	}
	if w.Status() == TaskReady {
		if err := w.StartExecution(); err != nil {
			return StepOutcome{Message: err.Error()}
		}
	}
	return w.ExecuteNextStep(ctx)
}

// Pause suspends the task from ready, executing, or waiting.
func (w *TaskSession) Pause() error {
	for _, from := range []TaskStatus{TaskReady, TaskExecuting, TaskWaiting} {
		if atomic.CompareAndSwapInt32(&w.state, int32(from), int32(TaskPaused)) {
			atomic.StoreInt32(&w.prePause, int32(from))
			logging.Task("task %s paused (was %s)", w.id, from)
			return nil
		}
	}
	return fmt.Errorf("task %s cannot pause from %s", w.id, w.Status())
}

// Resume restores the state the task was paused from.
func (w *TaskSession) Resume() error {
	restore := TaskStatus(atomic.LoadInt32(&w.prePause))
	if restore != TaskReady && restore != TaskExecuting && restore != TaskWaiting {
		restore = TaskReady
	}
	if !atomic.CompareAndSwapInt32(&w.state, int32(TaskPaused), int32(restore)) {
		return fmt.Errorf("task %s cannot resume from %s", w.id, w.Status())
	}
	w.touch()
	logging.Task("task %s resumed to %s", w.id, restore)
	return nil
}

// MarkWaiting parks an executing task until user input arrives.
func (w *TaskSession) MarkWaiting(prompt string) error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(TaskExecuting), int32(TaskWaiting)) {
		return fmt.Errorf("task %s cannot wait from %s", w.id, w.Status())
	}
	w.mu.Lock()
	w.waitPrompt = prompt
	w.mu.Unlock()
	logging.Task("task %s waiting for input: %s", w.id, prompt)
	return nil
}

// ResumeFromInput feeds a user response to a waiting task and resumes
// execution. The payload is exposed to subsequent steps through the task
// definition.
func (w *TaskSession) ResumeFromInput(payload string) error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(TaskWaiting), int32(TaskExecuting)) {
		return fmt.Errorf("task %s cannot accept input from %s", w.id, w.Status())
	}
	w.mu.Lock()
	if w.definition == nil {
		w.definition = make(map[string]string)
	}
	w.definition["user_response"] = payload
	w.waitPrompt = ""
	w.lastActivity = w.clock.Now()
	w.mu.Unlock()
	return nil
}

// Cancel terminates the task from any non-terminal state.
func (w *TaskSession) Cancel(reason string) error {
	for {
		current := TaskStatus(atomic.LoadInt32(&w.state))
		if current.IsTerminal() {
			return fmt.Errorf("task %s already %s", w.id, current)
		}
		if atomic.CompareAndSwapInt32(&w.state, int32(current), int32(TaskCancelled)) {
			w.mu.Lock()
			w.failReason = reason
			w.endedAt = w.clock.Now()
			w.mu.Unlock()
			logging.Task("task %s cancelled: %s", w.id, reason)
			return nil
		}
	}
}

// End closes the task. A non-terminal task is marked completed with the
// given reason; a terminal task is left untouched.
func (w *TaskSession) End(reason string) {
	for {
		current := TaskStatus(atomic.LoadInt32(&w.state))
		if current.IsTerminal() {
			return
		}
		if atomic.CompareAndSwapInt32(&w.state, int32(current), int32(TaskCompleted)) {
			w.mu.Lock()
			if w.finalResult == "" {
				w.finalResult = reason
			}
			w.endedAt = w.clock.Now()
			w.mu.Unlock()
			logging.Task("task %s ended: %s", w.id, reason)
			return
		}
	}
}

// Progress reports completed/total step counts. It never fails.
func (w *TaskSession) Progress() Progress {
	w.mu.RLock()
	defer w.mu.RUnlock()
	completed := 0
	for _, step := range w.steps {
		if step.Status == StepCompleted {
			completed++
		}
	}
	p := Progress{Completed: completed, Total: len(w.steps)}
	if p.Total > 0 {
		p.Percent = float64(completed) / float64(p.Total) * 100
	}
	return p
}

// FinalResult returns the aggregated step report, or the failure reason for
// failed and cancelled tasks.
func (w *TaskSession) FinalResult() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.finalResult != "" {
		return w.finalResult
	}
	return w.failReason
}

// Steps returns copies of the step list in order.
func (w *TaskSession) Steps() []Step {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Step, len(w.steps))
	for i, s := range w.steps {
		out[i] = *s
		out[i].executor = nil
	}
	return out
}

// WaitPrompt returns the prompt a waiting task asked with.
func (w *TaskSession) WaitPrompt() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.waitPrompt
}

func (w *TaskSession) touch() {
	w.mu.Lock()
	w.lastActivity = w.clock.Now()
	w.mu.Unlock()
}
