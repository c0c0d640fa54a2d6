package session

import (
	"testing"
	"time"

	"cadence/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationTurnLifecycle(t *testing.T) {
	clock := newManualClock()
	cs := NewConversationSession("gs-1", "assistant", clock, nil, nil)
	require.Equal(t, ConversationActive, cs.Status())

	turnID, ok := cs.StartTurn()
	require.True(t, ok)
	require.NotEmpty(t, turnID)

	cs.RecordInput(turnID, "what's the weather")
	cs.RecordResponse(turnID, "sunny", 120*time.Millisecond)

	turns := cs.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "what's the weather", turns[0].Input)
	assert.Equal(t, "sunny", turns[0].Response)
	assert.Equal(t, 120*time.Millisecond, turns[0].ProcessingTime)
}

func TestConversationUnknownTurnIsNoop(t *testing.T) {
	cs := NewConversationSession("gs-1", "", nil, nil, nil)

	cs.RecordInput("turn-nope", "x")
	cs.RecordResponse("turn-nope", "y", time.Second)
	cs.RecordError("turn-nope", "z")

	assert.Empty(t, cs.Turns())
	assert.Equal(t, 0, cs.Stats().ErrorCount)
}

func TestConversationStartTurnRequiresActive(t *testing.T) {
	cs := NewConversationSession("gs-1", "", nil, nil, nil)
	require.NoError(t, cs.Pause())

	id, ok := cs.StartTurn()
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestConversationPauseResume(t *testing.T) {
	cs := NewConversationSession("gs-1", "", nil, nil, nil)

	require.NoError(t, cs.Pause())
	assert.Equal(t, ConversationPaused, cs.Status())
	assert.Error(t, cs.Pause(), "pause only from active")

	require.NoError(t, cs.Resume())
	assert.Equal(t, ConversationActive, cs.Status())
	assert.Error(t, cs.Resume(), "resume only from paused")
}

func TestConversationEndComputesStats(t *testing.T) {
	clock := newManualClock()
	cs := NewConversationSession("gs-1", "", clock, nil, nil)

	for i, d := range []time.Duration{100 * time.Millisecond, 300 * time.Millisecond} {
		id, ok := cs.StartTurn()
		require.True(t, ok, "turn %d", i)
		cs.RecordResponse(id, "r", d)
	}
	id, _ := cs.StartTurn()
	cs.RecordError(id, "mic dropped")

	clock.Advance(10 * time.Second)
	stats := cs.End("user done")

	assert.Equal(t, 3, stats.TurnCount)
	assert.Equal(t, 400*time.Millisecond, stats.TotalProcessing)
	assert.Equal(t, 400*time.Millisecond/3, stats.AvgProcessing)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 10*time.Second, stats.Duration)
	assert.Equal(t, ConversationCompleted, cs.Status())
}

func TestConversationEndIsIdempotent(t *testing.T) {
	bus := &recordingBus{}
	cs := NewConversationSession("gs-1", "", nil, bus, nil)
	_, _ = cs.StartTurn()

	first := cs.End("done")
	second := cs.End("done again")

	assert.Equal(t, first, second)
	assert.Len(t, bus.All(), 1, "session-ended signal fires once")
}

func TestConversationEndReadsIterationAtEndTime(t *testing.T) {
	bus := &recordingBus{}
	iteration := 1
	cs := NewConversationSession("gs-1", "", nil, bus, func() int { return iteration })

	// The cycle advances while the conversation is open.
	iteration = 3

	cs.End("timeout")

	signals := bus.All()
	require.Len(t, signals, 1)
	assert.Equal(t, types.SignalConversationEnded, signals[0].Kind)
	assert.Equal(t, 3, signals[0].CycleIteration, "iteration read at end time, not creation time")
	assert.Equal(t, "gs-1", signals[0].CycleID)
	assert.Equal(t, "timeout", signals[0].Reason)
}

func TestConversationPendingEnd(t *testing.T) {
	cs := NewConversationSession("gs-1", "", nil, nil, nil)

	pending, _ := cs.PendingEnd()
	assert.False(t, pending)

	cs.RequestEnd("user hinted at wrapping up")
	pending, reason := cs.PendingEnd()
	assert.True(t, pending)
	assert.Equal(t, "user hinted at wrapping up", reason)

	cs.End("boundary reached")
	pending, _ = cs.PendingEnd()
	assert.False(t, pending, "end clears the flag")
}

func TestConversationWithoutOwningCycleIsError(t *testing.T) {
	cs := NewConversationSession("", "", nil, nil, nil)
	assert.Equal(t, ConversationError, cs.Status())

	id, ok := cs.StartTurn()
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestConversationEndOnErrorStateReturnsZeroStats(t *testing.T) {
	bus := &recordingBus{}
	cs := NewConversationSession("", "", nil, bus, nil)
	require.Equal(t, ConversationError, cs.Status())

	stats := cs.End("cleanup")

	assert.Equal(t, ConversationStats{}, stats)
	assert.Equal(t, ConversationError, cs.Status(), "error state is absorbing")
	assert.Empty(t, bus.All(), "no session-ended signal for a session that never ran")
}

func TestConversationConcurrentEndPublishesOnce(t *testing.T) {
	bus := &recordingBus{}
	cs := NewConversationSession("gs-1", "", nil, bus, nil)
	_, _ = cs.StartTurn()

	done := make(chan ConversationStats, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- cs.End("racing end") }()
	}
	first := <-done
	second := <-done

	assert.Equal(t, first, second)
	assert.Len(t, bus.All(), 1, "session-ended signal fires once")
}
