// Package session implements the nested session state machines for cadence:
// the top-level cycle, the conversation sub-session, and the task
// sub-session. Sessions are exclusively owned by the coordinator once
// created; callers work with ids and read-only snapshots.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cadence/internal/logging"
	"cadence/internal/types"

	"github.com/google/uuid"
)

// CycleStatus is the lifecycle state of a CycleSession.
type CycleStatus int32

const (
	CycleInactive CycleStatus = iota
	CycleInitializing
	CycleActive
	CycleProcessing
	CycleFinalizing
	CycleCompleted
	CycleError
)

func (s CycleStatus) String() string {
	switch s {
	case CycleInactive:
		return "inactive"
	case CycleInitializing:
		return "initializing"
	case CycleActive:
		return "active"
	case CycleProcessing:
		return "processing"
	case CycleFinalizing:
		return "finalizing"
	case CycleCompleted:
		return "completed"
	case CycleError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the cycle can change state again.
func (s CycleStatus) IsTerminal() bool { return s == CycleCompleted || s == CycleError }

// TriggerKind names what started a cycle.
type TriggerKind string

const (
	TriggerVoice        TriggerKind = "voice"
	TriggerText         TriggerKind = "text"
	TriggerSystem       TriggerKind = "system"
	TriggerScheduled    TriggerKind = "scheduled"
	TriggerContinuation TriggerKind = "continuation"
)

// ValidTrigger reports whether k is one of the known trigger kinds.
func ValidTrigger(k TriggerKind) bool {
	switch k {
	case TriggerVoice, TriggerText, TriggerSystem, TriggerScheduled, TriggerContinuation:
		return true
	}
	return false
}

// CarriedForwardBundle is the state one finished cycle hands to the next.
type CarriedForwardBundle struct {
	UserContext        map[string]string
	SystemSnapshot     map[string]string
	ConversationMemory []string
	ActiveIdentities   []string
	PendingTasks       []string
	SessionCount       int
	LastOutput         string
}

// SubSessionKind tags an owned sub-session id.
type SubSessionKind string

const (
	SubConversation SubSessionKind = "conversation"
	SubTask         SubSessionKind = "task"
)

type ownedSub struct {
	ID   string
	Kind SubSessionKind
}

// TransitionHandler observes one cycle state transition. Handlers run after
// the transition is applied; a panic or error in one handler is logged and
// never blocks the transition or the remaining handlers.
type TransitionHandler func(snapshot CycleSnapshot) error

// CycleSession is the top-level container for one input-processing-output
// cycle. It owns zero or more sub-session ids and carries a bundle of state
// forward into the next cycle when finalized.
type CycleSession struct {
	mu sync.RWMutex

	state int32 // CycleStatus, accessed atomically

	id        string
	kind      TriggerKind
	trigger   string
	iteration int

	carried CarriedForwardBundle
	result  *CarriedForwardBundle

	subSessions []ownedSub
	outputs     []string
	identity    string

	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	lastActivity time.Time

	handlers map[CycleStatus][]TransitionHandler

	clock types.Clock
	bus   types.SignalBus
}

// NewCycleSession builds a cycle in the inactive state. carried may be nil
// for the first cycle of a process; the iteration index is the carried
// session count plus one.
func NewCycleSession(kind TriggerKind, trigger string, carried *CarriedForwardBundle, clock types.Clock, bus types.SignalBus) *CycleSession {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if bus == nil {
		bus = types.NopBus{}
	}

	var bundle CarriedForwardBundle
	if carried != nil {
		bundle = *carried
	}

	now := clock.Now()
	gs := &CycleSession{
		id:           "gs-" + uuid.NewString(),
		kind:         kind,
		trigger:      trigger,
		iteration:    bundle.SessionCount + 1,
		carried:      bundle,
		handlers:     make(map[CycleStatus][]TransitionHandler),
		createdAt:    now,
		lastActivity: now,
		clock:        clock,
		bus:          bus,
	}
	if len(bundle.ActiveIdentities) > 0 {
		gs.identity = bundle.ActiveIdentities[0]
	}
	logging.SessionDebug("cycle %s created (kind=%s, iteration=%d)", gs.id, kind, gs.iteration)
	return gs
}

func (g *CycleSession) ID() string        { return g.id }
func (g *CycleSession) Kind() TriggerKind { return g.kind }
func (g *CycleSession) Iteration() int    { return g.iteration }

// Status returns the current lifecycle state.
func (g *CycleSession) Status() CycleStatus {
	return CycleStatus(atomic.LoadInt32(&g.state))
}

// CreatedAt returns the construction time.
func (g *CycleSession) CreatedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.createdAt
}

// LastActivity returns the time of the most recent interaction.
func (g *CycleSession) LastActivity() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastActivity
}

// Touch records activity so the inactivity sweep leaves the cycle alone.
func (g *CycleSession) Touch() {
	g.mu.Lock()
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()
}

// OnTransition registers a handler to run whenever the cycle enters the
// given state.
func (g *CycleSession) OnTransition(status CycleStatus, h TransitionHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[status] = append(g.handlers[status], h)
}

// Start moves the cycle from inactive to active, initializing shared
// context from the carried bundle and dispatching on the trigger kind.
func (g *CycleSession) Start() error {
	if !atomic.CompareAndSwapInt32(&g.state, int32(CycleInactive), int32(CycleInitializing)) {
		return fmt.Errorf("cycle %s cannot start from %s", g.id, g.Status())
	}
	g.fireHandlers(CycleInitializing)

	g.mu.Lock()
	now := g.clock.Now()
	g.startedAt = now
	g.lastActivity = now

	switch g.kind {
	case TriggerContinuation:
		// A continuation inherits the previous cycle's pending tasks as
		// work to resume.
		if len(g.carried.PendingTasks) > 0 {
			logging.Session("cycle %s resuming %d pending tasks", g.id, len(g.carried.PendingTasks))
		}
	case TriggerScheduled, TriggerSystem:
		// Non-interactive triggers skip greeting context.
	default:
		if g.carried.LastOutput != "" {
			logging.SessionDebug("cycle %s carries prior output (%d bytes)", g.id, len(g.carried.LastOutput))
		}
	}
	g.mu.Unlock()

	atomic.StoreInt32(&g.state, int32(CycleActive))
	g.fireHandlers(CycleActive)
	logging.Session("cycle %s started (kind=%s, iteration=%d)", g.id, g.kind, g.iteration)
	return nil
}

// RegisterSubSession records an owned sub-session and moves the cycle into
// processing.
func (g *CycleSession) RegisterSubSession(id string, kind SubSessionKind) error {
	status := g.Status()
	if status != CycleActive && status != CycleProcessing {
		return fmt.Errorf("cycle %s cannot register sub-session from %s", g.id, status)
	}

	g.mu.Lock()
	g.subSessions = append(g.subSessions, ownedSub{ID: id, Kind: kind})
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()

	atomic.StoreInt32(&g.state, int32(CycleProcessing))
	g.fireHandlers(CycleProcessing)
	logging.SessionDebug("cycle %s registered %s %s", g.id, kind, id)
	return nil
}

// UnregisterSubSession removes an owned sub-session id; when none remain
// the cycle returns to active. Unknown ids are a logged no-op.
func (g *CycleSession) UnregisterSubSession(id string) {
	g.mu.Lock()
	found := false
	kept := g.subSessions[:0]
	for _, sub := range g.subSessions {
		if sub.ID == id && !found {
			found = true
			continue
		}
		kept = append(kept, sub)
	}
	g.subSessions = kept
	remaining := len(g.subSessions)
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()

	if !found {
		logging.SessionDebug("cycle %s asked to unregister unknown sub-session %s", g.id, id)
		return
	}
	if remaining == 0 && g.Status() == CycleProcessing {
		atomic.StoreInt32(&g.state, int32(CycleActive))
		g.fireHandlers(CycleActive)
	}
}

// SubSessionIDs returns the owned sub-session ids in registration order.
func (g *CycleSession) SubSessionIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.subSessions))
	for i, sub := range g.subSessions {
		out[i] = sub.ID
	}
	return out
}

// AddOutput appends one entry to the ordered output log.
func (g *CycleSession) AddOutput(entry string) {
	g.mu.Lock()
	g.outputs = append(g.outputs, entry)
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()
}

// Finalize completes the cycle and computes the carried-forward bundle.
// It is idempotent: once terminal, it returns the same bundle again without
// firing handlers or signals a second time.
func (g *CycleSession) Finalize(finalOutput string) (*CarriedForwardBundle, error) {
	g.mu.Lock()
	if CycleStatus(atomic.LoadInt32(&g.state)).IsTerminal() {
		result := g.result
		g.mu.Unlock()
		if result == nil {
			return nil, fmt.Errorf("cycle %s ended in error", g.id)
		}
		return result, nil
	}
	g.mu.Unlock()

	atomic.StoreInt32(&g.state, int32(CycleFinalizing))
	g.fireHandlers(CycleFinalizing)

	g.mu.Lock()
	now := g.clock.Now()
	g.endedAt = now
	if finalOutput != "" {
		g.outputs = append(g.outputs, finalOutput)
	}

	lastOutput := g.carried.LastOutput
	if len(g.outputs) > 0 {
		lastOutput = g.outputs[len(g.outputs)-1]
	}

	identities := g.carried.ActiveIdentities
	if g.identity != "" {
		identities = mergeFront(g.identity, identities)
	}

	bundle := &CarriedForwardBundle{
		UserContext:        copyMap(g.carried.UserContext),
		SystemSnapshot:     copyMap(g.carried.SystemSnapshot),
		ConversationMemory: append([]string(nil), g.carried.ConversationMemory...),
		ActiveIdentities:   identities,
		PendingTasks:       append([]string(nil), g.carried.PendingTasks...),
		SessionCount:       g.iteration,
		LastOutput:         lastOutput,
	}
	g.result = bundle
	iteration := g.iteration
	duration := g.endedAt.Sub(g.createdAt)
	outputCount := len(g.outputs)
	subSessionCount := len(g.subSessions)
	g.mu.Unlock()

	atomic.StoreInt32(&g.state, int32(CycleCompleted))
	g.fireHandlers(CycleCompleted)

	g.bus.Publish(types.Signal{
		Kind:           types.SignalCycleFinalized,
		SessionID:      g.id,
		CycleID:        g.id,
		CycleIteration: iteration,
		Duration:       duration,
		Counts:         map[string]int{"outputs": outputCount, "sub_sessions": subSessionCount},
	})
	logging.Session("cycle %s finalized (iteration=%d, outputs=%d)", g.id, iteration, outputCount)
	return bundle, nil
}

// SetIdentity records the currently-active identity for the carried bundle.
func (g *CycleSession) SetIdentity(identity string) {
	g.mu.Lock()
	g.identity = identity
	g.mu.Unlock()
}

// AppendMemory adds one conversation-memory entry to be carried forward.
func (g *CycleSession) AppendMemory(entry string) {
	g.mu.Lock()
	g.carried.ConversationMemory = append(g.carried.ConversationMemory, entry)
	g.mu.Unlock()
}

// AddPendingTask records a task to hand to the next cycle.
func (g *CycleSession) AddPendingTask(task string) {
	g.mu.Lock()
	g.carried.PendingTasks = append(g.carried.PendingTasks, task)
	g.mu.Unlock()
}

// fireHandlers runs the handlers registered for a state. Each handler is
// isolated: an error or panic is logged and the rest still run.
func (g *CycleSession) fireHandlers(status CycleStatus) {
	g.mu.RLock()
	handlers := append([]TransitionHandler(nil), g.handlers[status]...)
	g.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	snap := g.Snapshot()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.SessionError("cycle %s handler for %s panicked: %v", g.id, status, r)
				}
			}()
			if err := h(snap); err != nil {
				logging.SessionError("cycle %s handler for %s failed: %v", g.id, status, err)
			}
		}()
	}
}

// CycleSnapshot is a read-only view of a cycle.
type CycleSnapshot struct {
	ID            string
	Kind          TriggerKind
	Status        CycleStatus
	Iteration     int
	SubSessionIDs []string
	Outputs       []string
	CreatedAt     time.Time
	LastActivity  time.Time
}

// Snapshot returns a point-in-time copy of the cycle's observable state.
func (g *CycleSession) Snapshot() CycleSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	subs := make([]string, len(g.subSessions))
	for i, sub := range g.subSessions {
		subs[i] = sub.ID
	}
	return CycleSnapshot{
		ID:            g.id,
		Kind:          g.kind,
		Status:        CycleStatus(atomic.LoadInt32(&g.state)),
		Iteration:     g.iteration,
		SubSessionIDs: subs,
		Outputs:       append([]string(nil), g.outputs...),
		CreatedAt:     g.createdAt,
		LastActivity:  g.lastActivity,
	}
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeFront puts id first and keeps the remaining entries de-duplicated.
func mergeFront(id string, rest []string) []string {
	out := []string{id}
	for _, r := range rest {
		if r != id {
			out = append(out, r)
		}
	}
	return out
}
