package session

import (
	"errors"
	"testing"
	"time"

	"cadence/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleStartOnlyFromInactive(t *testing.T) {
	gs := NewCycleSession(TriggerVoice, "hello", nil, nil, nil)
	require.Equal(t, CycleInactive, gs.Status())

	require.NoError(t, gs.Start())
	assert.Equal(t, CycleActive, gs.Status())

	err := gs.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start")
}

func TestCycleIterationFromCarriedBundle(t *testing.T) {
	t.Run("first cycle", func(t *testing.T) {
		gs := NewCycleSession(TriggerText, "", nil, nil, nil)
		assert.Equal(t, 1, gs.Iteration())
	})

	t.Run("subsequent cycle", func(t *testing.T) {
		carried := &CarriedForwardBundle{SessionCount: 4}
		gs := NewCycleSession(TriggerContinuation, "", carried, nil, nil)
		assert.Equal(t, 5, gs.Iteration())
	})
}

func TestCycleSubSessionTransitions(t *testing.T) {
	gs := NewCycleSession(TriggerVoice, "", nil, nil, nil)
	require.NoError(t, gs.Start())

	require.NoError(t, gs.RegisterSubSession("cs-1", SubConversation))
	assert.Equal(t, CycleProcessing, gs.Status())

	require.NoError(t, gs.RegisterSubSession("ws-1", SubTask))
	assert.Equal(t, []string{"cs-1", "ws-1"}, gs.SubSessionIDs())

	gs.UnregisterSubSession("cs-1")
	assert.Equal(t, CycleProcessing, gs.Status(), "still one sub-session left")

	gs.UnregisterSubSession("ws-1")
	assert.Equal(t, CycleActive, gs.Status())

	// Unknown id is a no-op.
	gs.UnregisterSubSession("nope")
	assert.Equal(t, CycleActive, gs.Status())
}

func TestCycleRegisterRequiresActive(t *testing.T) {
	gs := NewCycleSession(TriggerVoice, "", nil, nil, nil)
	err := gs.RegisterSubSession("cs-1", SubConversation)
	require.Error(t, err)
}

func TestCycleFinalizeComputesBundle(t *testing.T) {
	clock := newManualClock()
	bus := &recordingBus{}
	carried := &CarriedForwardBundle{
		UserContext:  map[string]string{"name": "sam"},
		SessionCount: 2,
		PendingTasks: []string{"water plants"},
	}

	gs := NewCycleSession(TriggerVoice, "hey", carried, clock, bus)
	require.NoError(t, gs.Start())
	gs.SetIdentity("assistant")
	gs.AddOutput("first output")
	clock.Advance(3 * time.Second)

	bundle, err := gs.Finalize("final words")
	require.NoError(t, err)

	assert.Equal(t, 3, bundle.SessionCount)
	assert.Equal(t, "final words", bundle.LastOutput)
	assert.Equal(t, []string{"assistant"}, bundle.ActiveIdentities)
	assert.Equal(t, []string{"water plants"}, bundle.PendingTasks)
	assert.Equal(t, "sam", bundle.UserContext["name"])
	assert.Equal(t, CycleCompleted, gs.Status())

	signals := bus.All()
	require.Len(t, signals, 1)
	assert.Equal(t, types.SignalCycleFinalized, signals[0].Kind)
	assert.Equal(t, 3, signals[0].CycleIteration)
	assert.Equal(t, 3*time.Second, signals[0].Duration)
	assert.Equal(t, 2, signals[0].Counts["outputs"], "AddOutput plus the final output")
	assert.Equal(t, 0, signals[0].Counts["sub_sessions"])
}

func TestCycleFinalizeIsIdempotent(t *testing.T) {
	bus := &recordingBus{}
	gs := NewCycleSession(TriggerText, "", nil, nil, bus)
	require.NoError(t, gs.Start())

	first, err := gs.Finalize("done")
	require.NoError(t, err)

	second, err := gs.Finalize("again")
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
	assert.Len(t, bus.All(), 1, "signal fires once")
}

func TestCycleTransitionHandlers(t *testing.T) {
	gs := NewCycleSession(TriggerVoice, "", nil, nil, nil)

	var seen []CycleStatus
	gs.OnTransition(CycleActive, func(snap CycleSnapshot) error {
		seen = append(seen, snap.Status)
		return nil
	})
	gs.OnTransition(CycleCompleted, func(snap CycleSnapshot) error {
		seen = append(seen, snap.Status)
		return errors.New("listener trouble")
	})
	gs.OnTransition(CycleCompleted, func(snap CycleSnapshot) error {
		// Runs even though the previous handler failed.
		seen = append(seen, snap.Status)
		return nil
	})

	require.NoError(t, gs.Start())
	_, err := gs.Finalize("")
	require.NoError(t, err)

	assert.Equal(t, []CycleStatus{CycleActive, CycleCompleted, CycleCompleted}, seen)
}

func TestCycleHandlerPanicDoesNotBlockTransition(t *testing.T) {
	gs := NewCycleSession(TriggerVoice, "", nil, nil, nil)
	gs.OnTransition(CycleActive, func(CycleSnapshot) error {
		panic("listener exploded")
	})

	require.NoError(t, gs.Start())
	assert.Equal(t, CycleActive, gs.Status())
}

func TestValidTrigger(t *testing.T) {
	assert.True(t, ValidTrigger(TriggerVoice))
	assert.True(t, ValidTrigger(TriggerScheduled))
	assert.False(t, ValidTrigger(TriggerKind("carrier-pigeon")))
}
