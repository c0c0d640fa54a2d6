// Package types holds the boundary contracts shared across the coordinator,
// router, and session state machines. It is deliberately dependency-free so
// every other package can import it without cycles.
package types

import (
	"context"
	"time"
)

// Clock abstracts time for the coordinator and the inactivity sweep so tests
// can advance it manually.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IntentClassifier turns one utterance into labeled intent segments. The
// core treats it as an external collaborator and never inspects how the
// labels were produced.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) ([]IntentSegment, error)
}

// TaskCatalog resolves the authoritative work mode for a work segment by
// matching its text against known tasks. Implementations return candidates
// ordered by relevance, best first.
type TaskCatalog interface {
	Lookup(ctx context.Context, text string) ([]CatalogMatch, error)
}

// StepRequest carries everything a step executor needs for one step.
type StepRequest struct {
	SessionID  string
	StepName   string
	TaskKind   string
	Definition map[string]string
	Attempt    int
}

// StepResult is the outcome of one executor invocation. Err is set only
// when Success is false.
type StepResult struct {
	Success bool
	Output  string
	Err     error
}

// StepExecutor runs one named step. Implementations must honor ctx
// cancellation for anything that can block.
type StepExecutor func(ctx context.Context, req StepRequest) StepResult

// ExecutorRegistry resolves step names to executors at task construction.
type ExecutorRegistry interface {
	Resolve(stepName string) (StepExecutor, bool)
}

// StatusKeeper applies the configured penalty adjustments when a new cycle
// of a given trigger kind begins. The coordinator calls it and logs the
// outcome but never depends on it for correctness.
type StatusKeeper interface {
	ApplyCyclePenalties(triggerKind string) error
}
