// Package ledger keeps the append-only audit trail of session status
// transitions. Records move strictly forward (triggered, active, then one
// terminal status) and the ledger is bounded: when full, the oldest records
// are evicted.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cadence/internal/logging"
	"cadence/internal/types"

	"github.com/google/uuid"
)

// SessionType identifies which state machine a record audits.
type SessionType string

const (
	TypeCycle        SessionType = "cycle"
	TypeConversation SessionType = "conversation"
	TypeTask         SessionType = "task"
)

// RecordStatus is the audited lifecycle status of a session.
type RecordStatus string

const (
	StatusTriggered RecordStatus = "triggered"
	StatusActive    RecordStatus = "active"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
	StatusCancelled RecordStatus = "cancelled"
	StatusExpired   RecordStatus = "expired"
)

// rank orders statuses so a transition can only move forward.
func rank(s RecordStatus) int {
	switch s {
	case StatusTriggered:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether the status is absorbing.
func (s RecordStatus) IsTerminal() bool { return rank(s) == 2 }

// StatusChange is one entry in a record's transition history.
type StatusChange struct {
	Timestamp time.Time
	From      RecordStatus
	To        RecordStatus
	Details   string
}

// SessionRecord is one audit entry, independent of session type.
type SessionRecord struct {
	RecordID       string
	SessionType    SessionType
	SessionID      string
	Status         RecordStatus
	TriggerContent string
	TriggeredAt    time.Time
	UpdatedAt      time.Time
	History        []StatusChange
	Summary        string
}

// clone returns a deep copy so callers never alias ledger-owned state.
func (r *SessionRecord) clone() SessionRecord {
	out := *r
	out.History = make([]StatusChange, len(r.History))
	copy(out.History, r.History)
	return out
}

// Options configures a Ledger.
type Options struct {
	MaxRecords int
	Clock      types.Clock
	Bus        types.SignalBus
	Store      *Store
}

// Ledger is the bounded in-memory record ring with an optional sqlite
// mirror. All methods are safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	bySession  map[string]*SessionRecord
	order      []string // session ids, append order
	maxRecords int
	clock      types.Clock
	bus        types.SignalBus
	store      *Store
}

// New creates a ledger. Zero-value options fall back to 1000 records, the
// system clock, and no signal fan-out.
func New(opts Options) *Ledger {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 1000
	}
	if opts.Clock == nil {
		opts.Clock = types.SystemClock{}
	}
	if opts.Bus == nil {
		opts.Bus = types.NopBus{}
	}
	return &Ledger{
		bySession:  make(map[string]*SessionRecord),
		maxRecords: opts.MaxRecords,
		clock:      opts.Clock,
		bus:        opts.Bus,
		store:      opts.Store,
	}
}

// Append creates a record in the triggered status. A second append for the
// same session id is rejected: every session gets exactly one record.
func (l *Ledger) Append(sessionType SessionType, sessionID, triggerContent string) (SessionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.bySession[sessionID]; exists {
		return SessionRecord{}, fmt.Errorf("record already exists for session %s", sessionID)
	}

	now := l.clock.Now()
	rec := &SessionRecord{
		RecordID:       "rec-" + uuid.NewString(),
		SessionType:    sessionType,
		SessionID:      sessionID,
		Status:         StatusTriggered,
		TriggerContent: triggerContent,
		TriggeredAt:    now,
		UpdatedAt:      now,
	}
	l.bySession[sessionID] = rec
	l.order = append(l.order, sessionID)
	l.evictLocked()

	logging.Ledger("record %s: %s %s triggered", rec.RecordID, sessionType, sessionID)
	l.mirror(rec)
	return rec.clone(), nil
}

// UpdateStatus moves a record forward. Regressions and any update after a
// terminal status are rejected without a write.
func (l *Ledger) UpdateStatus(sessionID string, to RecordStatus, details string) error {
	l.mu.Lock()
	rec, ok := l.bySession[sessionID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no record for session %s", sessionID)
	}

	from := rec.Status
	if from.IsTerminal() {
		l.mu.Unlock()
		logging.Get(logging.CategoryLedger).Warn(
			"rejected status change %s -> %s for %s: record is terminal", from, to, sessionID)
		return fmt.Errorf("record for %s is terminal (%s)", sessionID, from)
	}
	if rank(to) <= rank(from) {
		l.mu.Unlock()
		logging.Get(logging.CategoryLedger).Warn(
			"rejected status change %s -> %s for %s: not a forward transition", from, to, sessionID)
		return fmt.Errorf("status cannot move from %s to %s", from, to)
	}

	now := l.clock.Now()
	rec.Status = to
	rec.UpdatedAt = now
	rec.History = append(rec.History, StatusChange{
		Timestamp: now,
		From:      from,
		To:        to,
		Details:   details,
	})
	snapshot := rec.clone()
	l.mu.Unlock()

	logging.Ledger("record %s: %s -> %s (%s)", snapshot.RecordID, from, to, details)
	l.mirror(&snapshot)
	l.bus.Publish(types.Signal{
		Kind:      types.SignalRecordStatusChanged,
		SessionID: sessionID,
		Reason:    details,
		Counts:    map[string]int{"history": len(snapshot.History)},
	})
	return nil
}

// SetSummary attaches a closing summary to a record. Allowed at any status;
// the summary is descriptive, not a transition.
func (l *Ledger) SetSummary(sessionID, summary string) error {
	l.mu.Lock()
	rec, ok := l.bySession[sessionID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no record for session %s", sessionID)
	}
	rec.Summary = summary
	snapshot := rec.clone()
	l.mu.Unlock()

	l.mirror(&snapshot)
	return nil
}

// Records returns a filtered, most-recent-first view of the ledger. Empty
// filters match everything; limit <= 0 uses the default of 100.
func (l *Ledger) Records(typeFilter SessionType, statusFilter RecordStatus, limit int) []SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]SessionRecord, 0, len(l.order))
	for _, id := range l.order {
		rec := l.bySession[id]
		if typeFilter != "" && rec.SessionType != typeFilter {
			continue
		}
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		out = append(out, rec.clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a copy of the record for a session id.
func (l *Ledger) Get(sessionID string) (SessionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.bySession[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	return rec.clone(), true
}

// Len returns the number of records currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// evictLocked drops the oldest records until the ring fits.
func (l *Ledger) evictLocked() {
	for len(l.order) > l.maxRecords {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.bySession, oldest)
		logging.Get(logging.CategoryLedger).Debug("evicted oldest record for %s", oldest)
	}
}

// mirror writes the record to the sqlite store, best effort. A store
// failure never fails the in-memory transition.
func (l *Ledger) mirror(rec *SessionRecord) {
	if l.store == nil {
		return
	}
	if err := l.store.Upsert(rec); err != nil {
		logging.Get(logging.CategoryLedger).Warn("ledger store write failed for %s: %v", rec.SessionID, err)
	}
}
