// Package router implements the intent priority router: pure decision logic
// that maps classified intent segments plus the current session context to
// enqueue/interrupt/ignore instructions. It performs no I/O and never
// mutates session state; the coordinator executes its decisions.
package router

import (
	"context"
	"sort"

	"cadence/internal/logging"
	"cadence/internal/types"
)

// SessionContext is the routing state, resolved by the coordinator at call
// time.
type SessionContext int

const (
	NoSession SessionContext = iota
	ActiveConversation
	ActiveTask
)

func (s SessionContext) String() string {
	switch s {
	case NoSession:
		return "noSession"
	case ActiveConversation:
		return "activeConversation"
	case ActiveTask:
		return "activeTask"
	default:
		return "unknown"
	}
}

// EnqueueInstruction asks the caller to enqueue one downstream state.
// Instructions are emitted highest priority first and callers must preserve
// that order when feeding a priority queue.
type EnqueueInstruction struct {
	State    types.IntentKind
	Priority int
	Mode     types.WorkMode
	Text     string
}

// ResponseMetadata annotates input consumed as a response to a running
// task. Nothing is enqueued; the component that resumes the task interprets
// these flags.
type ResponseMetadata struct {
	ChatDetected   bool
	SuggestEndWork bool
	WorkContent    bool
	WorkModes      []types.WorkMode
	UncertainInput bool
}

// Decision is the router's output. The zero value is the conservative
// no-op: nothing enqueued, nothing interrupted.
type Decision struct {
	EndInputStage         bool
	InterruptConversation bool
	PauseConversation     bool
	Enqueue               []EnqueueInstruction
	Notes                 []string
	Response              *ResponseMetadata
}

// Router applies the state-specific routing rules. Construct once and share;
// it holds no per-call state.
type Router struct {
	catalog   types.TaskCatalog
	threshold float64
}

// New creates a router. catalog may be nil, in which case work modes come
// from the classifier alone. threshold <= 0 falls back to 0.3.
func New(catalog types.TaskCatalog, threshold float64) *Router {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &Router{catalog: catalog, threshold: threshold}
}

// Route maps segments to a decision for the given session context. It never
// returns an error: on any internal failure it logs and returns the
// conservative no-op decision, because silently failing to act is safer
// than an unintended interrupt.
func (r *Router) Route(ctx context.Context, sctx SessionContext, segments []types.IntentSegment) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Get(logging.CategoryRouting).Error("router panic, returning no-op decision: %v", rec)
			decision = Decision{Notes: []string{"internal routing error, no action taken"}}
		}
	}()

	logging.RoutingDebug("routing %d segments in %s", len(segments), sctx)

	switch sctx {
	case ActiveConversation:
		return r.routeActiveConversation(ctx, segments)
	case ActiveTask:
		return r.routeActiveTask(segments)
	default:
		return r.routeNoSession(ctx, segments)
	}
}

// routeNoSession handles input arriving with no open conversation or task.
func (r *Router) routeNoSession(ctx context.Context, segments []types.IntentSegment) Decision {
	var d Decision

	kept := dropUnknown(segments, &d)
	if len(kept) == 0 {
		d.EndInputStage = true
		d.Notes = append(d.Notes, "no actionable segments, ending input stage")
		return d
	}

	if len(kept) > 1 {
		kept = applyCompoundRules(kept, &d)
	}

	for _, seg := range kept {
		switch seg.Kind {
		case types.IntentCall:
			// A call wakes the system and expects a follow-up; it never
			// carries work in the same breath.
			d.EndInputStage = true
			d.Notes = append(d.Notes, "call handled, ending input stage")
		case types.IntentChat, types.IntentResponse:
			d.Enqueue = append(d.Enqueue, EnqueueInstruction{
				State:    types.IntentChat,
				Priority: types.PriorityChat,
				Text:     seg.Text,
			})
		case types.IntentWork:
			mode := r.resolveWorkMode(ctx, seg)
			priority := types.PriorityWorkDirect
			if mode == types.WorkModeBackground {
				priority = types.PriorityWorkBackground
			}
			d.Enqueue = append(d.Enqueue, EnqueueInstruction{
				State:    types.IntentWork,
				Priority: priority,
				Mode:     mode,
				Text:     seg.Text,
			})
		}
	}

	sortByPriority(d.Enqueue)
	return d
}

// routeActiveConversation handles input while a conversation is open.
func (r *Router) routeActiveConversation(ctx context.Context, segments []types.IntentSegment) Decision {
	var d Decision

	kept := dropUnknown(segments, &d)
	for _, seg := range kept {
		switch seg.Kind {
		case types.IntentCall, types.IntentChat, types.IntentResponse:
			// A call during an open conversation is just conversational
			// continuation; nothing is enqueued.
			d.Notes = append(d.Notes, "continue conversation")
		case types.IntentWork:
			mode := r.resolveWorkMode(ctx, seg)
			if mode == types.WorkModeBackground {
				d.Enqueue = append(d.Enqueue, EnqueueInstruction{
					State:    types.IntentWork,
					Priority: types.PriorityWorkBackground,
					Mode:     mode,
					Text:     seg.Text,
				})
				d.Notes = append(d.Notes, "background work queued without interrupting")
				continue
			}
			// A direct request interrupts the conversation now.
			d.InterruptConversation = true
			d.PauseConversation = true
			d.EndInputStage = true
			d.Enqueue = append(d.Enqueue, EnqueueInstruction{
				State:    types.IntentWork,
				Priority: types.PriorityWorkDirect,
				Mode:     types.WorkModeDirect,
				Text:     seg.Text,
			})
			d.Notes = append(d.Notes, "direct work interrupts conversation")
		}
	}

	sortByPriority(d.Enqueue)
	return d
}

// routeActiveTask treats every segment as a response to the running task;
// nothing is ever enqueued from here.
func (r *Router) routeActiveTask(segments []types.IntentSegment) Decision {
	meta := &ResponseMetadata{}
	d := Decision{Response: meta}

	for _, seg := range segments {
		switch seg.Kind {
		case types.IntentChat, types.IntentCall:
			meta.ChatDetected = true
			meta.SuggestEndWork = true
		case types.IntentWork:
			meta.WorkContent = true
			mode := seg.Mode
			if mode == types.WorkModeUnspecified {
				mode = types.WorkModeBackground
			}
			meta.WorkModes = append(meta.WorkModes, mode)
		case types.IntentUnknown:
			meta.UncertainInput = true
		case types.IntentResponse:
			// The expected case: the input answers the task's prompt.
		}
	}

	d.Notes = append(d.Notes, "input consumed as task response")
	return d
}

// dropUnknown filters unknown segments, noting how many were dropped.
func dropUnknown(segments []types.IntentSegment, d *Decision) []types.IntentSegment {
	kept := make([]types.IntentSegment, 0, len(segments))
	dropped := 0
	for _, seg := range segments {
		if seg.Kind == types.IntentUnknown {
			dropped++
			continue
		}
		kept = append(kept, seg)
	}
	if dropped > 0 {
		d.Notes = append(d.Notes, "dropped unknown segments")
	}
	return kept
}

// applyCompoundRules filters a multi-segment input: a call is dropped when
// chat or work is also present, and work segments are moved ahead of chat
// because a command takes precedence over small talk.
func applyCompoundRules(segments []types.IntentSegment, d *Decision) []types.IntentSegment {
	hasChat, hasWork := false, false
	for _, seg := range segments {
		switch seg.Kind {
		case types.IntentChat, types.IntentResponse:
			hasChat = true
		case types.IntentWork:
			hasWork = true
		}
	}

	kept := segments
	if hasChat || hasWork {
		filtered := kept[:0:0]
		droppedCall := false
		for _, seg := range kept {
			if seg.Kind == types.IntentCall {
				droppedCall = true
				continue
			}
			filtered = append(filtered, seg)
		}
		kept = filtered
		if droppedCall {
			d.Notes = append(d.Notes, "dropped call segment from compound input")
		}
	}

	if hasChat && hasWork {
		reordered := make([]types.IntentSegment, 0, len(kept))
		for _, seg := range kept {
			if seg.Kind == types.IntentWork {
				reordered = append(reordered, seg)
			}
		}
		for _, seg := range kept {
			if seg.Kind != types.IntentWork {
				reordered = append(reordered, seg)
			}
		}
		kept = reordered
		d.Notes = append(d.Notes, "reordered work before chat")
	}

	return kept
}

// resolveWorkMode picks the authoritative work mode for a work segment:
// a confident task-catalog match wins, then the classifier's mode, then
// background as the safe default.
func (r *Router) resolveWorkMode(ctx context.Context, seg types.IntentSegment) types.WorkMode {
	if r.catalog != nil {
		matches, err := r.catalog.Lookup(ctx, seg.Text)
		if err != nil {
			logging.Get(logging.CategoryRouting).Warn("task catalog lookup failed, using classifier mode: %v", err)
		} else if len(matches) > 0 {
			best := matches[0]
			if best.Relevance >= r.threshold && best.Mode != types.WorkModeUnspecified {
				logging.RoutingDebug("catalog corrected work mode to %s via %s (relevance %.2f)",
					best.Mode, best.TaskName, best.Relevance)
				return best.Mode
			}
			logging.RoutingDebug("catalog match %s below threshold (%.2f < %.2f), keeping classifier mode",
				best.TaskName, best.Relevance, r.threshold)
		}
	}

	if seg.Mode != types.WorkModeUnspecified {
		return seg.Mode
	}
	return types.WorkModeBackground
}

// sortByPriority orders instructions highest priority first, preserving the
// relative order of equal priorities.
func sortByPriority(instructions []EnqueueInstruction) {
	sort.SliceStable(instructions, func(i, j int) bool {
		return instructions[i].Priority > instructions[j].Priority
	})
}
