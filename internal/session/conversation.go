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

// ConversationStatus is the lifecycle state of a ConversationSession.
type ConversationStatus int32

const (
	ConversationInitializing ConversationStatus = iota
	ConversationActive
	ConversationPaused
	ConversationCompleted
	ConversationError
)

func (s ConversationStatus) String() string {
	switch s {
	case ConversationInitializing:
		return "initializing"
	case ConversationActive:
		return "active"
	case ConversationPaused:
		return "paused"
	case ConversationCompleted:
		return "completed"
	case ConversationError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the conversation can change state again.
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationCompleted || s == ConversationError
}

// Turn is one exchange inside a conversation. Turns are immutable once the
// session ends.
type Turn struct {
	ID             string
	Input          string
	Response       string
	ProcessingTime time.Duration
	ErrMessage     string
	Metadata       map[string]string
	StartedAt      time.Time
}

// ConversationStats summarizes a conversation.
type ConversationStats struct {
	TurnCount       int
	TotalProcessing time.Duration
	AvgProcessing   time.Duration
	ErrorCount      int
	Duration        time.Duration
}

// IterationSource reports the owning cycle's current iteration index. It is
// read at end time, not at creation time, so the session-ended signal
// reflects the iteration in which the session actually closed.
type IterationSource func() int

// ConversationSession tracks one open-ended dialogue nested inside a cycle.
type ConversationSession struct {
	mu sync.RWMutex

	state int32 // ConversationStatus, accessed atomically

	id            string
	owningCycleID string
	identity      string

	turns     []*Turn
	turnIndex map[string]*Turn

	pendingEnd       bool
	pendingEndReason string

	totalProcessing time.Duration
	errorCount      int

	endStats *ConversationStats

	createdAt    time.Time
	endedAt      time.Time
	lastActivity time.Time

	clock     types.Clock
	bus       types.SignalBus
	iteration IterationSource
}

// NewConversationSession creates an active conversation owned by a cycle.
// Initialization failures set status error and log instead of panicking.
func NewConversationSession(owningCycleID, identity string, clock types.Clock, bus types.SignalBus, iteration IterationSource) *ConversationSession {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if bus == nil {
		bus = types.NopBus{}
	}
	if iteration == nil {
		iteration = func() int { return 0 }
	}

	now := clock.Now()
	cs := &ConversationSession{
		id:            "cs-" + uuid.NewString(),
		owningCycleID: owningCycleID,
		identity:      identity,
		turnIndex:     make(map[string]*Turn),
		createdAt:     now,
		lastActivity:  now,
		clock:         clock,
		bus:           bus,
		iteration:     iteration,
	}

	if owningCycleID == "" {
		atomic.StoreInt32(&cs.state, int32(ConversationError))
		logging.SessionError("conversation %s created without an owning cycle", cs.id)
		return cs
	}

	atomic.StoreInt32(&cs.state, int32(ConversationActive))
	logging.Session("conversation %s started (cycle=%s, identity=%s)", cs.id, owningCycleID, identity)
	return cs
}

func (c *ConversationSession) ID() string            { return c.id }
func (c *ConversationSession) OwningCycleID() string { return c.owningCycleID }

// Status returns the current lifecycle state.
func (c *ConversationSession) Status() ConversationStatus {
	return ConversationStatus(atomic.LoadInt32(&c.state))
}

// CreatedAt returns the construction time.
func (c *ConversationSession) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// LastActivity returns the time of the most recent turn activity.
func (c *ConversationSession) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// StartTurn opens a new turn and returns its id. It returns ("", false)
// unless the conversation is active.
func (c *ConversationSession) StartTurn() (string, bool) {
	if c.Status() != ConversationActive {
		logging.SessionDebug("conversation %s rejected turn start from %s", c.id, c.Status())
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	turn := &Turn{
		ID:        "turn-" + uuid.NewString(),
		Metadata:  make(map[string]string),
		StartedAt: c.clock.Now(),
	}
	c.turns = append(c.turns, turn)
	c.turnIndex[turn.ID] = turn
	c.lastActivity = turn.StartedAt
	return turn.ID, true
}

// RecordInput attaches the user input to a turn. Unknown turn ids are a
// logged no-op.
func (c *ConversationSession) RecordInput(turnID, input string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	turn, ok := c.turnIndex[turnID]
	if !ok {
		logging.SessionDebug("conversation %s: record input for unknown turn %s", c.id, turnID)
		return
	}
	turn.Input = input
	c.lastActivity = c.clock.Now()
}

// RecordResponse attaches the system response and processing time to a turn.
func (c *ConversationSession) RecordResponse(turnID, response string, processingTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	turn, ok := c.turnIndex[turnID]
	if !ok {
		logging.SessionDebug("conversation %s: record response for unknown turn %s", c.id, turnID)
		return
	}
	turn.Response = response
	turn.ProcessingTime = processingTime
	c.totalProcessing += processingTime
	c.lastActivity = c.clock.Now()
}

// RecordError marks a turn as failed. Unknown turn ids are a logged no-op.
func (c *ConversationSession) RecordError(turnID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	turn, ok := c.turnIndex[turnID]
	if !ok {
		logging.SessionDebug("conversation %s: record error for unknown turn %s", c.id, turnID)
		return
	}
	turn.ErrMessage = message
	c.errorCount++
	c.lastActivity = c.clock.Now()
}

// Pause suspends an active conversation.
func (c *ConversationSession) Pause() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(ConversationActive), int32(ConversationPaused)) {
		return fmt.Errorf("conversation %s cannot pause from %s", c.id, c.Status())
	}
	logging.Session("conversation %s paused", c.id)
	return nil
}

// Resume reactivates a paused conversation.
func (c *ConversationSession) Resume() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(ConversationPaused), int32(ConversationActive)) {
		return fmt.Errorf("conversation %s cannot resume from %s", c.id, c.Status())
	}
	c.mu.Lock()
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()
	logging.Session("conversation %s resumed", c.id)
	return nil
}

// RequestEnd flags the conversation to be ended at the next boundary, e.g.
// when the router suggests wrapping up but the current turn should finish.
func (c *ConversationSession) RequestEnd(reason string) {
	c.mu.Lock()
	c.pendingEnd = true
	c.pendingEndReason = reason
	c.mu.Unlock()
	logging.SessionDebug("conversation %s end requested: %s", c.id, reason)
}

// PendingEnd reports whether an end has been requested, and why.
func (c *ConversationSession) PendingEnd() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingEnd, c.pendingEndReason
}

// End finalizes the conversation: computes duration and summary statistics,
// clears the pending-end flag, and publishes the session-ended signal with
// the owning cycle's current iteration index. Idempotent: a second call
// returns the same stats and publishes nothing.
func (c *ConversationSession) End(reason string) ConversationStats {
	c.mu.Lock()
	if ConversationStatus(atomic.LoadInt32(&c.state)).IsTerminal() {
		// Error-state sessions never computed stats.
		var stats ConversationStats
		if c.endStats != nil {
			stats = *c.endStats
		}
		c.mu.Unlock()
		return stats
	}

	now := c.clock.Now()
	c.endedAt = now
	c.pendingEnd = false
	c.pendingEndReason = ""

	stats := ConversationStats{
		TurnCount:       len(c.turns),
		TotalProcessing: c.totalProcessing,
		ErrorCount:      c.errorCount,
		Duration:        now.Sub(c.createdAt),
	}
	if stats.TurnCount > 0 {
		stats.AvgProcessing = c.totalProcessing / time.Duration(stats.TurnCount)
	}
	c.endStats = &stats
	// The terminal store happens before the mutex is released so a
	// concurrent End sees a terminal state and takes the branch above
	// instead of recomputing and republishing.
	atomic.StoreInt32(&c.state, int32(ConversationCompleted))
	c.mu.Unlock()

	// The cycle may have advanced since this conversation started; the
	// signal must carry the iteration in which it actually closed.
	iteration := c.iteration()
	c.bus.Publish(types.Signal{
		Kind:           types.SignalConversationEnded,
		SessionID:      c.id,
		CycleID:        c.owningCycleID,
		CycleIteration: iteration,
		Reason:         reason,
		Duration:       stats.Duration,
		Counts: map[string]int{
			"turns":  stats.TurnCount,
			"errors": stats.ErrorCount,
		},
	})
	logging.Session("conversation %s ended (reason=%s, turns=%d, iteration=%d)", c.id, reason, stats.TurnCount, iteration)
	return stats
}

// Stats returns the running counters without ending the session.
func (c *ConversationSession) Stats() ConversationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.endStats != nil {
		return *c.endStats
	}
	stats := ConversationStats{
		TurnCount:       len(c.turns),
		TotalProcessing: c.totalProcessing,
		ErrorCount:      c.errorCount,
		Duration:        c.clock.Now().Sub(c.createdAt),
	}
	if stats.TurnCount > 0 {
		stats.AvgProcessing = c.totalProcessing / time.Duration(stats.TurnCount)
	}
	return stats
}

// Turns returns copies of the recorded turns in order.
func (c *ConversationSession) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = *t
	}
	return out
}
