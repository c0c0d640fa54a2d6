// Package coordinator is the façade over the session state machines: it
// owns the single active cycle, the conversation and task registries, the
// audit ledger, and the intent router, and it runs the background
// inactivity sweep. All external callers go through the coordinator;
// sessions are never handed out.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cadence/internal/ledger"
	"cadence/internal/logging"
	"cadence/internal/router"
	"cadence/internal/session"
	"cadence/internal/types"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoActiveCycle is returned when a sub-session is requested before
	// any cycle has been started. No session object and no ledger record
	// are created.
	ErrNoActiveCycle = errors.New("no active cycle session")

	// ErrCycleMismatch is returned when a sub-session names a cycle that is
	// not the current one.
	ErrCycleMismatch = errors.New("cycle id does not match the active cycle")
)

// Options wires a Coordinator. Zero values fall back to the defaults noted
// per field.
type Options struct {
	MaxSessionAge      time.Duration // default 24h
	SweepInterval      time.Duration // default 300s
	MaxCycleHistory    int           // default 100
	KeepRecentSessions int           // default 10

	Clock        types.Clock
	Bus          types.SignalBus
	Ledger       *ledger.Ledger
	Router       *router.Router
	Classifier   types.IntentClassifier
	Executors    types.ExecutorRegistry
	StatusKeeper types.StatusKeeper

	// Async, when set, runs routed background work off the caller's
	// goroutine. Without one, background tasks are parked ready and carried
	// forward as pending.
	Async AsyncDispatcher
}

// AsyncDispatcher runs one executor in the background under an id and keeps
// the result for later retrieval. *executor.AsyncRunner satisfies it.
type AsyncDispatcher interface {
	ExecuteAsync(ctx context.Context, id string, exec types.StepExecutor, req types.StepRequest)
	WaitForResult(ctx context.Context, id string) (types.StepResult, error)
}

// scratchReleaser is implemented by executor registries that hold per-task
// scratch state worth releasing when a task ends.
type scratchReleaser interface {
	Release(sessionID string)
}

// Coordinator serializes all session mutations behind one mutex. Step
// executors run outside the lock; only registry and cycle bookkeeping is
// held under it.
type Coordinator struct {
	mu sync.Mutex

	current       *session.CycleSession
	carried       *session.CarriedForwardBundle
	cycleHistory  []string
	conversations *session.ConversationRegistry
	tasks         *session.TaskRegistry

	iteration int32 // current cycle iteration, read lock-free by signals

	maxSessionAge      time.Duration
	sweepInterval      time.Duration
	maxCycleHistory    int
	keepRecentSessions int

	clock        types.Clock
	bus          types.SignalBus
	ledger       *ledger.Ledger
	router       *router.Router
	classifier   types.IntentClassifier
	executors    types.ExecutorRegistry
	statusKeeper types.StatusKeeper
	async        AsyncDispatcher

	sweepGroup  *errgroup.Group
	sweepCancel context.CancelFunc
	closeOnce   sync.Once
}

// New builds a coordinator. Ledger, Router, and Classifier are required for
// full operation but nil values degrade gracefully: a nil ledger skips
// auditing and a nil router turns HandleUserInput into a no-op.
func New(opts Options) *Coordinator {
	if opts.MaxSessionAge <= 0 {
		opts.MaxSessionAge = 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 300 * time.Second
	}
	if opts.MaxCycleHistory <= 0 {
		opts.MaxCycleHistory = 100
	}
	if opts.KeepRecentSessions <= 0 {
		opts.KeepRecentSessions = 10
	}
	if opts.Clock == nil {
		opts.Clock = types.SystemClock{}
	}
	if opts.Bus == nil {
		opts.Bus = types.NopBus{}
	}

	return &Coordinator{
		conversations:      session.NewConversationRegistry(),
		tasks:              session.NewTaskRegistry(),
		maxSessionAge:      opts.MaxSessionAge,
		sweepInterval:      opts.SweepInterval,
		maxCycleHistory:    opts.MaxCycleHistory,
		keepRecentSessions: opts.KeepRecentSessions,
		clock:              opts.Clock,
		bus:                opts.Bus,
		ledger:             opts.Ledger,
		router:             opts.Router,
		classifier:         opts.Classifier,
		executors:          opts.Executors,
		statusKeeper:       opts.StatusKeeper,
		async:              opts.Async,
	}
}

// StartCycleSession begins a new cycle. A still-open cycle is finalized
// first so there is never more than one; the carried bundle from the
// previous cycle seeds the new one. Status penalties are applied per
// trigger kind; a penalty failure is logged and never blocks the cycle.
func (c *Coordinator) StartCycleSession(kind session.TriggerKind, trigger string) (string, error) {
	if !session.ValidTrigger(kind) {
		return "", fmt.Errorf("unknown trigger kind %q", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.Status().IsTerminal() {
		logging.Coordinator("ending cycle %s before starting a new one", c.current.ID())
		if _, err := c.endCycleLocked("superseded by new cycle"); err != nil {
			return "", fmt.Errorf("failed to end previous cycle: %w", err)
		}
	}

	if c.statusKeeper != nil {
		if err := c.statusKeeper.ApplyCyclePenalties(string(kind)); err != nil {
			logging.Coordinator("status penalties for %s trigger failed: %v", kind, err)
		}
	}

	gs := session.NewCycleSession(kind, trigger, c.carried, c.clock, c.bus)
	if err := gs.Start(); err != nil {
		return "", err
	}

	c.current = gs
	atomic.StoreInt32(&c.iteration, int32(gs.Iteration()))

	if c.ledger != nil {
		if _, err := c.ledger.Append(ledger.TypeCycle, gs.ID(), trigger); err != nil {
			logging.Coordinator("ledger append for cycle %s failed: %v", gs.ID(), err)
		} else if err := c.ledger.UpdateStatus(gs.ID(), ledger.StatusActive, "cycle started"); err != nil {
			logging.Coordinator("ledger update for cycle %s failed: %v", gs.ID(), err)
		}
	}

	logging.Coordinator("cycle %s started (kind=%s, iteration=%d)", gs.ID(), kind, gs.Iteration())
	return gs.ID(), nil
}

// EndCycleSession finalizes the current cycle, ending its owned
// sub-sessions first, and returns the carried-forward bundle for the next
// cycle.
func (c *Coordinator) EndCycleSession(finalOutput string) (*session.CarriedForwardBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveCycle
	}
	return c.endCycleLocked(finalOutput)
}

// endCycleLocked ends owned sub-sessions, finalizes the cycle, records the
// audit entry, and stores the carried bundle. Caller must hold c.mu.
func (c *Coordinator) endCycleLocked(finalOutput string) (*session.CarriedForwardBundle, error) {
	gs := c.current
	cycleID := gs.ID()

	for _, cs := range c.conversations.Live() {
		if cs.OwningCycleID() != cycleID {
			continue
		}
		stats := cs.End("cycle finalized")
		c.recordSubSessionEnd(cs.ID(), ledger.StatusCompleted,
			fmt.Sprintf("cycle finalized after %d turns", stats.TurnCount))
	}
	for _, ws := range c.tasks.Live() {
		if ws.OwningCycleID() != cycleID {
			continue
		}
		ws.End("cycle finalized")
		c.recordSubSessionEnd(ws.ID(), ledger.StatusCompleted, "cycle finalized")
		c.releaseScratch(ws.ID())
	}

	bundle, err := gs.Finalize(finalOutput)
	if err != nil {
		return nil, err
	}

	if c.ledger != nil {
		if err := c.ledger.UpdateStatus(cycleID, ledger.StatusCompleted, "cycle finalized"); err != nil {
			logging.Coordinator("ledger update for cycle %s failed: %v", cycleID, err)
		}
	}

	c.cycleHistory = append(c.cycleHistory, cycleID)
	if len(c.cycleHistory) > c.maxCycleHistory {
		c.cycleHistory = c.cycleHistory[len(c.cycleHistory)-c.maxCycleHistory:]
	}
	c.carried = bundle
	c.current = nil

	logging.Coordinator("cycle %s finalized, carrying %d memory entries and %d pending tasks forward",
		cycleID, len(bundle.ConversationMemory), len(bundle.PendingTasks))
	return bundle, nil
}

// CreateConversationSession opens a conversation under the active cycle.
// cycleID may be "" to mean the current cycle; a stale id is rejected with
// ErrCycleMismatch. On rejection no session and no ledger record exist.
func (c *Coordinator) CreateConversationSession(cycleID, identity string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gs, err := c.activeCycleLocked(cycleID)
	if err != nil {
		return "", err
	}

	cs := session.NewConversationSession(gs.ID(), identity, c.clock, c.bus, c.iterationSource())
	if cs.Status() == session.ConversationError {
		return "", fmt.Errorf("conversation %s failed to initialize", cs.ID())
	}
	if err := gs.RegisterSubSession(cs.ID(), session.SubConversation); err != nil {
		cs.End("registration failed")
		return "", err
	}
	c.conversations.Add(cs)

	if c.ledger != nil {
		if _, err := c.ledger.Append(ledger.TypeConversation, cs.ID(), identity); err != nil {
			logging.Coordinator("ledger append for conversation %s failed: %v", cs.ID(), err)
		} else if err := c.ledger.UpdateStatus(cs.ID(), ledger.StatusActive, "conversation started"); err != nil {
			logging.Coordinator("ledger update for conversation %s failed: %v", cs.ID(), err)
		}
	}
	return cs.ID(), nil
}

// CreateTaskSession builds a task under the active cycle from its kind's
// step template. The task is left in the ready state; use RunTask or
// HandleUserInput to drive it.
func (c *Coordinator) CreateTaskSession(cycleID string, kind session.TaskKind, definition map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createTaskLocked(cycleID, kind, definition)
}

func (c *Coordinator) createTaskLocked(cycleID string, kind session.TaskKind, definition map[string]string) (string, error) {
	gs, err := c.activeCycleLocked(cycleID)
	if err != nil {
		return "", err
	}

	ws, err := session.NewTaskSession(gs.ID(), kind, definition, c.executors, c.clock, c.bus)
	if err != nil {
		return "", err
	}
	if err := ws.Initialize(); err != nil {
		return "", err
	}
	if err := gs.RegisterSubSession(ws.ID(), session.SubTask); err != nil {
		ws.Cancel("registration failed")
		return "", err
	}
	c.tasks.Add(ws)

	if c.ledger != nil {
		if _, err := c.ledger.Append(ledger.TypeTask, ws.ID(), string(kind)); err != nil {
			logging.Coordinator("ledger append for task %s failed: %v", ws.ID(), err)
		}
	}
	return ws.ID(), nil
}

// activeCycleLocked resolves the cycle a sub-session should attach to.
func (c *Coordinator) activeCycleLocked(cycleID string) (*session.CycleSession, error) {
	if c.current == nil || c.current.Status().IsTerminal() {
		return nil, ErrNoActiveCycle
	}
	if cycleID != "" && cycleID != c.current.ID() {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrCycleMismatch, cycleID, c.current.ID())
	}
	return c.current, nil
}

// iterationSource gives sub-sessions a lock-free view of the current cycle
// iteration so their end signals carry the iteration they closed in.
func (c *Coordinator) iterationSource() session.IterationSource {
	return func() int { return int(atomic.LoadInt32(&c.iteration)) }
}

// RunTask drives a ready task to a terminal or waiting state. Executors run
// outside the coordinator lock.
func (c *Coordinator) RunTask(ctx context.Context, taskID string) (session.StepOutcome, error) {
	ws, ok := c.tasks.Get(taskID)
	if !ok {
		return session.StepOutcome{}, fmt.Errorf("unknown task %s", taskID)
	}

	if c.ledger != nil {
		if err := c.ledger.UpdateStatus(taskID, ledger.StatusActive, "task executing"); err != nil {
			logging.Coordinator("ledger update for task %s failed: %v", taskID, err)
		}
	}

	outcome := ws.RunToCompletion(ctx)
	c.settleTask(ws)
	return outcome, nil
}

// settleTask records a terminal task in the ledger and detaches it from its
// cycle. Waiting and paused tasks are left attached.
func (c *Coordinator) settleTask(ws *session.TaskSession) {
	status := ws.Status()
	if !status.IsTerminal() {
		return
	}

	var recordStatus ledger.RecordStatus
	switch status {
	case session.TaskFailed:
		recordStatus = ledger.StatusFailed
	case session.TaskCancelled:
		recordStatus = ledger.StatusCancelled
	default:
		recordStatus = ledger.StatusCompleted
	}
	c.recordSubSessionEnd(ws.ID(), recordStatus, ws.FinalResult())
	c.releaseScratch(ws.ID())

	c.mu.Lock()
	if c.current != nil && c.current.ID() == ws.OwningCycleID() {
		c.current.UnregisterSubSession(ws.ID())
		if status == session.TaskCompleted && ws.FinalResult() != "" {
			c.current.AddOutput(ws.FinalResult())
		}
	}
	c.mu.Unlock()
}

// EndConversationSession closes a conversation and audits it as completed.
func (c *Coordinator) EndConversationSession(id, reason string) (session.ConversationStats, error) {
	cs, ok := c.conversations.Get(id)
	if !ok {
		return session.ConversationStats{}, fmt.Errorf("unknown conversation %s", id)
	}

	stats := cs.End(reason)
	c.recordSubSessionEnd(id, ledger.StatusCompleted,
		fmt.Sprintf("%s (%d turns, %d errors)", reason, stats.TurnCount, stats.ErrorCount))

	c.mu.Lock()
	if c.current != nil && c.current.ID() == cs.OwningCycleID() {
		c.current.UnregisterSubSession(id)
	}
	c.mu.Unlock()
	return stats, nil
}

// EndTaskSession closes a task with the given reason. A running task is
// ended as completed; use CancelTask for abandonment.
func (c *Coordinator) EndTaskSession(id, reason string) error {
	ws, ok := c.tasks.Get(id)
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	ws.End(reason)
	c.settleTask(ws)
	return nil
}

// CancelTask abandons a non-terminal task.
func (c *Coordinator) CancelTask(id, reason string) error {
	ws, ok := c.tasks.Get(id)
	if !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	if err := ws.Cancel(reason); err != nil {
		return err
	}
	c.settleTask(ws)
	return nil
}

// recordSubSessionEnd writes the terminal audit entry, best effort.
func (c *Coordinator) recordSubSessionEnd(sessionID string, status ledger.RecordStatus, details string) {
	if c.ledger == nil {
		return
	}
	// Sessions ended straight from triggered never saw an active update;
	// the terminal transition is still a forward move, so just apply it.
	if err := c.ledger.UpdateStatus(sessionID, status, details); err != nil {
		logging.Coordinator("ledger update for %s failed: %v", sessionID, err)
	}
	if err := c.ledger.SetSummary(sessionID, details); err != nil {
		logging.Coordinator("ledger summary for %s failed: %v", sessionID, err)
	}
}

func (c *Coordinator) releaseScratch(sessionID string) {
	if r, ok := c.executors.(scratchReleaser); ok {
		r.Release(sessionID)
	}
}

// HandleUserInput classifies an utterance, routes it against the current
// session context, and executes the resulting decision: pausing
// conversations, enqueuing and running tasks, recording chat turns, or
// feeding a waiting task. The router's decision is returned for callers
// that surface routing notes.
func (c *Coordinator) HandleUserInput(ctx context.Context, utterance string) (router.Decision, error) {
	if c.router == nil || c.classifier == nil {
		return router.Decision{}, fmt.Errorf("coordinator has no router or classifier wired")
	}

	segments, err := c.classifier.Classify(ctx, utterance)
	if err != nil {
		return router.Decision{}, fmt.Errorf("classification failed: %w", err)
	}

	sctx := c.sessionContext()
	decision := c.router.Route(ctx, sctx, segments)

	c.mu.Lock()
	if c.current != nil {
		c.current.Touch()
	}
	c.mu.Unlock()

	if decision.Response != nil {
		c.feedWaitingTask(ctx, utterance, decision.Response)
		return decision, nil
	}

	if decision.PauseConversation {
		if id := c.conversations.MostRecentActiveID(); id != "" {
			if cs, ok := c.conversations.Get(id); ok {
				if decision.InterruptConversation {
					// The conversation yields now and should wrap up at the
					// next boundary rather than resume indefinitely.
					cs.RequestEnd("interrupted by direct work")
				}
				if err := cs.Pause(); err != nil {
					logging.Coordinator("pause of conversation %s failed: %v", id, err)
				}
			}
		}
	}

	for _, instr := range decision.Enqueue {
		switch instr.State {
		case types.IntentWork:
			c.executeWork(ctx, instr)
		case types.IntentChat:
			c.recordChat(instr.Text)
		}
	}
	return decision, nil
}

// sessionContext resolves the routing context from the registries: a task
// consuming input wins over an open conversation.
func (c *Coordinator) sessionContext() router.SessionContext {
	for _, ws := range c.tasks.Live() {
		switch ws.Status() {
		case session.TaskExecuting, session.TaskWaiting:
			return router.ActiveTask
		}
	}
	if c.conversations.MostRecentActiveID() != "" {
		return router.ActiveConversation
	}
	return router.NoSession
}

// feedWaitingTask resumes the most recent waiting task with the utterance.
func (c *Coordinator) feedWaitingTask(ctx context.Context, utterance string, meta *router.ResponseMetadata) {
	var waiting *session.TaskSession
	for _, ws := range c.tasks.Live() {
		if ws.Status() == session.TaskWaiting {
			waiting = ws
		}
	}
	if waiting == nil {
		logging.Coordinator("response metadata with no waiting task, input dropped")
		return
	}
	if meta.SuggestEndWork {
		logging.Coordinator("task %s response suggests wrapping up", waiting.ID())
	}

	if err := waiting.ResumeFromInput(utterance); err != nil {
		logging.Coordinator("task %s could not accept input: %v", waiting.ID(), err)
		return
	}
	waiting.ExecuteNextStep(ctx)
	c.settleTask(waiting)
}

// executeWork turns one work instruction into a task. Direct work runs to
// completion now. Background work is dispatched to the async runner when one
// is wired; otherwise it is parked ready and noted as pending on the cycle.
func (c *Coordinator) executeWork(ctx context.Context, instr router.EnqueueInstruction) {
	c.mu.Lock()
	taskID, err := c.createTaskLocked("", session.TaskWorkflowAutomation, map[string]string{
		"workflow": instr.Text,
	})
	if err != nil {
		c.mu.Unlock()
		logging.Coordinator("routed work %q could not create a task: %v", instr.Text, err)
		return
	}
	if instr.Mode == types.WorkModeBackground && c.async == nil && c.current != nil {
		c.current.AddPendingTask(instr.Text)
	}
	c.mu.Unlock()

	if instr.Mode == types.WorkModeBackground {
		if c.async == nil {
			logging.Coordinator("background task %s parked ready: %s", taskID, instr.Text)
			return
		}
		c.dispatchBackground(ctx, taskID, instr.Text)
		return
	}
	if _, err := c.RunTask(ctx, taskID); err != nil {
		logging.Coordinator("routed task %s failed to run: %v", taskID, err)
	}
}

// dispatchBackground hands a task to the async runner. The run is detached
// from the triggering request so the work survives the input that queued it.
func (c *Coordinator) dispatchBackground(ctx context.Context, taskID, text string) {
	run := func(runCtx context.Context, req types.StepRequest) types.StepResult {
		outcome, err := c.RunTask(runCtx, req.SessionID)
		if err != nil {
			return types.StepResult{Err: err}
		}
		if outcome.SessionFailed {
			return types.StepResult{Err: fmt.Errorf("background task %s failed: %s", req.SessionID, outcome.Message)}
		}
		return types.StepResult{Success: true, Output: outcome.Message}
	}
	c.async.ExecuteAsync(context.WithoutCancel(ctx), taskID, run, types.StepRequest{
		SessionID: taskID,
		TaskKind:  string(session.TaskWorkflowAutomation),
	})
	logging.Coordinator("background task %s dispatched: %s", taskID, text)
}

// WaitForBackground blocks until an asynchronously dispatched task finishes
// or ctx expires. It errors when no async runner is wired.
func (c *Coordinator) WaitForBackground(ctx context.Context, taskID string) (types.StepResult, error) {
	if c.async == nil {
		return types.StepResult{}, errors.New("no async runner wired")
	}
	return c.async.WaitForResult(ctx, taskID)
}

// recordChat appends the text as a turn on the active conversation,
// creating one when none is open.
func (c *Coordinator) recordChat(text string) {
	id := c.conversations.MostRecentActiveID()
	if id == "" {
		var err error
		id, err = c.CreateConversationSession("", "")
		if err != nil {
			logging.Coordinator("routed chat dropped, no conversation available: %v", err)
			return
		}
	}
	cs, ok := c.conversations.Get(id)
	if !ok {
		return
	}
	if turnID, started := cs.StartTurn(); started {
		cs.RecordInput(turnID, text)
	}
	c.mu.Lock()
	if c.current != nil {
		c.current.AppendMemory(text)
	}
	c.mu.Unlock()
}

// PrimarySessionID returns the id a user-facing surface should attach to:
// the active cycle, else the newest active conversation, else the newest
// active task, else "".
func (c *Coordinator) PrimarySessionID() string {
	c.mu.Lock()
	if c.current != nil && !c.current.Status().IsTerminal() {
		id := c.current.ID()
		c.mu.Unlock()
		return id
	}
	c.mu.Unlock()

	if id := c.conversations.MostRecentActiveID(); id != "" {
		return id
	}
	return c.tasks.MostRecentActiveID()
}

// SessionRecords returns a filtered, most-recent-first view of the audit
// ledger. Empty filters match everything.
func (c *Coordinator) SessionRecords(typeFilter ledger.SessionType, statusFilter ledger.RecordStatus, limit int) []ledger.SessionRecord {
	if c.ledger == nil {
		return nil
	}
	return c.ledger.Records(typeFilter, statusFilter, limit)
}

// CarriedBundle returns the bundle the last finalized cycle left behind.
func (c *Coordinator) CarriedBundle() *session.CarriedForwardBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carried
}

// CycleHistory returns the finalized cycle ids, oldest first.
func (c *Coordinator) CycleHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cycleHistory...)
}

// CheckSessionTimeouts ends every live session whose inactivity exceeds the
// configured budget. Expired sessions are ended through the normal path
// with reason "timeout" and audited as expired. Returns the ended session
// ids.
func (c *Coordinator) CheckSessionTimeouts() []string {
	now := c.clock.Now()
	var ended []string

	for _, cs := range c.conversations.Live() {
		if now.Sub(cs.LastActivity()) <= c.maxSessionAge {
			continue
		}
		cs.End("timeout")
		c.recordSubSessionEnd(cs.ID(), ledger.StatusExpired, "inactivity timeout")
		c.detachFromCycle(cs.OwningCycleID(), cs.ID())
		ended = append(ended, cs.ID())
	}

	for _, ws := range c.tasks.Live() {
		if now.Sub(ws.LastActivity()) <= c.maxSessionAge {
			continue
		}
		ws.End("timeout")
		c.recordSubSessionEnd(ws.ID(), ledger.StatusExpired, "inactivity timeout")
		c.releaseScratch(ws.ID())
		c.detachFromCycle(ws.OwningCycleID(), ws.ID())
		ended = append(ended, ws.ID())
	}

	c.mu.Lock()
	if c.current != nil && !c.current.Status().IsTerminal() &&
		now.Sub(c.current.LastActivity()) > c.maxSessionAge {
		id := c.current.ID()
		if _, err := c.endCycleLocked("timeout"); err != nil {
			logging.Coordinator("timeout finalize of cycle %s failed: %v", id, err)
		} else {
			// endCycleLocked audits completion; overwrite with expired is
			// not possible, so record the reason in the summary instead.
			if c.ledger != nil {
				if err := c.ledger.SetSummary(id, "inactivity timeout"); err != nil {
					logging.Coordinator("ledger summary for %s failed: %v", id, err)
				}
			}
			ended = append(ended, id)
		}
	}
	c.mu.Unlock()

	removed := c.conversations.CleanupOld(c.keepRecentSessions)
	removed += c.tasks.CleanupOld(c.keepRecentSessions)
	if len(ended) > 0 || removed > 0 {
		logging.Coordinator("sweep ended %d sessions, cleaned up %d", len(ended), removed)
	}
	return ended
}

func (c *Coordinator) detachFromCycle(cycleID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.ID() == cycleID {
		c.current.UnregisterSubSession(sessionID)
	}
}

// Start launches the background inactivity sweep. It returns immediately;
// the sweep runs until ctx is cancelled or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	g, sweepCtx := errgroup.WithContext(sweepCtx)

	c.mu.Lock()
	c.sweepGroup = g
	c.sweepCancel = cancel
	c.mu.Unlock()

	g.Go(func() error {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		logging.Coordinator("inactivity sweep running every %s", c.sweepInterval)
		for {
			select {
			case <-sweepCtx.Done():
				return nil
			case <-ticker.C:
				c.CheckSessionTimeouts()
			}
		}
	})
}

// Close stops the sweep and waits for it to exit. Safe to call more than
// once and without a prior Start.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.sweepCancel
		g := c.sweepGroup
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if g != nil {
			if err := g.Wait(); err != nil {
				logging.Coordinator("sweep exited with error: %v", err)
			}
		}
		logging.Coordinator("coordinator closed")
	})
}
