package session

import (
	"sort"
	"sync"

	"cadence/internal/logging"
)

// ConversationRegistry tracks conversation sessions by id. The coordinator
// owns one registry per sub-session type; methods are safe for concurrent
// use by the call path and the inactivity sweep.
type ConversationRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*ConversationSession
	order    []string // creation order
}

// NewConversationRegistry returns an empty registry.
func NewConversationRegistry() *ConversationRegistry {
	return &ConversationRegistry{sessions: make(map[string]*ConversationSession)}
}

// Add registers a session.
func (r *ConversationRegistry) Add(cs *ConversationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cs.ID()] = cs
	r.order = append(r.order, cs.ID())
}

// Get returns a session by id.
func (r *ConversationRegistry) Get(id string) (*ConversationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.sessions[id]
	return cs, ok
}

// Active returns the active sessions in creation order.
func (r *ConversationRegistry) Active() []*ConversationSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ConversationSession
	for _, id := range r.order {
		if cs := r.sessions[id]; cs != nil && cs.Status() == ConversationActive {
			out = append(out, cs)
		}
	}
	return out
}

// Live returns sessions that are not yet terminal (active or paused), in
// creation order. The inactivity sweep checks these.
func (r *ConversationRegistry) Live() []*ConversationSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ConversationSession
	for _, id := range r.order {
		if cs := r.sessions[id]; cs != nil && !cs.Status().IsTerminal() {
			out = append(out, cs)
		}
	}
	return out
}

// MostRecentActiveID returns the newest active session id, or "".
func (r *ConversationRegistry) MostRecentActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if cs := r.sessions[r.order[i]]; cs != nil && cs.Status() == ConversationActive {
			return cs.ID()
		}
	}
	return ""
}

// CleanupOld removes terminal sessions beyond the keepRecent newest ones
// and returns how many were removed.
func (r *ConversationRegistry) CleanupOld(keepRecent int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []string
	for _, id := range r.order {
		if cs := r.sessions[id]; cs != nil && cs.Status().IsTerminal() {
			terminal = append(terminal, id)
		}
	}
	if len(terminal) <= keepRecent {
		return 0
	}

	// order is creation-sorted, so the oldest terminal sessions come first.
	toRemove := terminal[:len(terminal)-keepRecent]
	removeSet := make(map[string]bool, len(toRemove))
	for _, id := range toRemove {
		removeSet[id] = true
		delete(r.sessions, id)
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if !removeSet[id] {
			kept = append(kept, id)
		}
	}
	r.order = kept

	logging.SessionDebug("cleaned up %d old conversations", len(toRemove))
	return len(toRemove)
}

// Len returns the number of tracked sessions.
func (r *ConversationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// TaskRegistry tracks task sessions by id.
type TaskRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*TaskSession
	order    []string
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{sessions: make(map[string]*TaskSession)}
}

// Add registers a session.
func (r *TaskRegistry) Add(ws *TaskSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[ws.ID()] = ws
	r.order = append(r.order, ws.ID())
}

// Get returns a session by id.
func (r *TaskRegistry) Get(id string) (*TaskSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.sessions[id]
	return ws, ok
}

// Active returns sessions that are ready or executing, in creation order.
func (r *TaskRegistry) Active() []*TaskSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TaskSession
	for _, id := range r.order {
		ws := r.sessions[id]
		if ws == nil {
			continue
		}
		switch ws.Status() {
		case TaskReady, TaskExecuting:
			out = append(out, ws)
		}
	}
	return out
}

// Live returns sessions that are not yet terminal, in creation order.
func (r *TaskRegistry) Live() []*TaskSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TaskSession
	for _, id := range r.order {
		if ws := r.sessions[id]; ws != nil && !ws.Status().IsTerminal() {
			out = append(out, ws)
		}
	}
	return out
}

// MostRecentActiveID returns the newest ready-or-executing session id.
func (r *TaskRegistry) MostRecentActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		ws := r.sessions[r.order[i]]
		if ws == nil {
			continue
		}
		switch ws.Status() {
		case TaskReady, TaskExecuting:
			return ws.ID()
		}
	}
	return ""
}

// CleanupOld removes terminal sessions beyond the keepRecent newest ones.
func (r *TaskRegistry) CleanupOld(keepRecent int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []string
	for _, id := range r.order {
		if ws := r.sessions[id]; ws != nil && ws.Status().IsTerminal() {
			terminal = append(terminal, id)
		}
	}
	if len(terminal) <= keepRecent {
		return 0
	}

	toRemove := terminal[:len(terminal)-keepRecent]
	removeSet := make(map[string]bool, len(toRemove))
	for _, id := range toRemove {
		removeSet[id] = true
		delete(r.sessions, id)
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if !removeSet[id] {
			kept = append(kept, id)
		}
	}
	r.order = kept

	logging.SessionDebug("cleaned up %d old tasks", len(toRemove))
	return len(toRemove)
}

// Len returns the number of tracked sessions.
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SortedIDs returns all tracked ids sorted lexically; diagnostics only.
func (r *TaskRegistry) SortedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}
