package router

import (
	"context"
	"errors"
	"testing"

	"cadence/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog returns canned matches, or an error.
type fakeCatalog struct {
	matches []types.CatalogMatch
	err     error
}

func (c *fakeCatalog) Lookup(context.Context, string) ([]types.CatalogMatch, error) {
	return c.matches, c.err
}

func seg(text string, kind types.IntentKind, conf float64, mode types.WorkMode) types.IntentSegment {
	return types.NewIntentSegment(text, kind, conf, mode)
}

func TestNoSessionCallAloneEndsInputStage(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), NoSession, []types.IntentSegment{
		seg("Hello", types.IntentCall, 0.95, types.WorkModeUnspecified),
	})

	assert.True(t, d.EndInputStage)
	assert.Empty(t, d.Enqueue)
}

func TestNoSessionDirectWorkEnqueuesAt100(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), NoSession, []types.IntentSegment{
		seg("Open the file", types.IntentWork, 0.94, types.WorkModeDirect),
	})

	require.Len(t, d.Enqueue, 1)
	assert.Equal(t, types.IntentWork, d.Enqueue[0].State)
	assert.Equal(t, types.PriorityWorkDirect, d.Enqueue[0].Priority)
	assert.Equal(t, types.WorkModeDirect, d.Enqueue[0].Mode)
	assert.False(t, d.EndInputStage)
}

func TestNoSessionUnknownDropped(t *testing.T) {
	r := New(nil, 0)

	t.Run("all unknown ends input stage", func(t *testing.T) {
		d := r.Route(context.Background(), NoSession, []types.IntentSegment{
			seg("mumble", types.IntentUnknown, 0.2, types.WorkModeUnspecified),
			seg("static", types.IntentUnknown, 0.1, types.WorkModeUnspecified),
		})
		assert.True(t, d.EndInputStage)
		assert.Empty(t, d.Enqueue)
	})

	t.Run("unknown dropped beside chat", func(t *testing.T) {
		d := r.Route(context.Background(), NoSession, []types.IntentSegment{
			seg("mumble", types.IntentUnknown, 0.2, types.WorkModeUnspecified),
			seg("how are you", types.IntentChat, 0.9, types.WorkModeUnspecified),
		})
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.IntentChat, d.Enqueue[0].State)
		assert.Equal(t, types.PriorityChat, d.Enqueue[0].Priority)
	})
}

func TestNoSessionCompoundDropsCall(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), NoSession, []types.IntentSegment{
		seg("hey assistant", types.IntentCall, 0.9, types.WorkModeUnspecified),
		seg("open the file", types.IntentWork, 0.9, types.WorkModeDirect),
	})

	require.Len(t, d.Enqueue, 1)
	assert.Equal(t, types.IntentWork, d.Enqueue[0].State)
	assert.False(t, d.EndInputStage, "the dropped call must not end the input stage")
}

func TestNoSessionPriorityOrdering(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), NoSession, []types.IntentSegment{
		seg("play music later", types.IntentWork, 0.8, types.WorkModeBackground),
		seg("nice weather", types.IntentChat, 0.9, types.WorkModeUnspecified),
		seg("save the file", types.IntentWork, 0.95, types.WorkModeDirect),
		seg("noise", types.IntentUnknown, 0.1, types.WorkModeUnspecified),
	})

	require.Len(t, d.Enqueue, 3)
	priorities := []int{d.Enqueue[0].Priority, d.Enqueue[1].Priority, d.Enqueue[2].Priority}
	assert.Equal(t, []int{types.PriorityWorkDirect, types.PriorityChat, types.PriorityWorkBackground}, priorities)
}

func TestNoSessionWorkModeResolution(t *testing.T) {
	base := seg("organize my photos", types.IntentWork, 0.9, types.WorkModeUnspecified)

	t.Run("catalog match above threshold wins", func(t *testing.T) {
		catalog := &fakeCatalog{matches: []types.CatalogMatch{
			{TaskName: "photo-sort", Relevance: 0.8, Mode: types.WorkModeDirect},
		}}
		r := New(catalog, 0.3)

		d := r.Route(context.Background(), NoSession, []types.IntentSegment{base})
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.WorkModeDirect, d.Enqueue[0].Mode)
		assert.Equal(t, types.PriorityWorkDirect, d.Enqueue[0].Priority)
	})

	t.Run("catalog match below threshold falls back to classifier", func(t *testing.T) {
		catalog := &fakeCatalog{matches: []types.CatalogMatch{
			{TaskName: "photo-sort", Relevance: 0.15, Mode: types.WorkModeDirect},
		}}
		r := New(catalog, 0.3)

		withMode := base
		withMode.Mode = types.WorkModeBackground
		d := r.Route(context.Background(), NoSession, []types.IntentSegment{withMode})
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.WorkModeBackground, d.Enqueue[0].Mode)
	})

	t.Run("catalog error falls back to classifier", func(t *testing.T) {
		r := New(&fakeCatalog{err: errors.New("catalog offline")}, 0.3)

		withMode := base
		withMode.Mode = types.WorkModeDirect
		d := r.Route(context.Background(), NoSession, []types.IntentSegment{withMode})
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.WorkModeDirect, d.Enqueue[0].Mode)
	})

	t.Run("no catalog, no classifier mode defaults to background", func(t *testing.T) {
		r := New(nil, 0)
		d := r.Route(context.Background(), NoSession, []types.IntentSegment{base})
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.WorkModeBackground, d.Enqueue[0].Mode)
		assert.Equal(t, types.PriorityWorkBackground, d.Enqueue[0].Priority)
	})
}

func TestActiveConversationDirectWorkInterrupts(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
		seg("Save file", types.IntentWork, 0.95, types.WorkModeDirect),
	})

	assert.True(t, d.InterruptConversation)
	assert.True(t, d.PauseConversation)
	assert.True(t, d.EndInputStage)
	require.Len(t, d.Enqueue, 1)
	assert.Equal(t, types.PriorityWorkDirect, d.Enqueue[0].Priority)
}

func TestActiveConversationBackgroundWorkDoesNotInterrupt(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
		seg("Play music", types.IntentWork, 0.91, types.WorkModeBackground),
	})

	assert.False(t, d.InterruptConversation)
	assert.False(t, d.PauseConversation)
	assert.False(t, d.EndInputStage)
	require.Len(t, d.Enqueue, 1)
	assert.Equal(t, types.PriorityWorkBackground, d.Enqueue[0].Priority)
}

func TestActiveConversationChatContinues(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
		seg("tell me more", types.IntentChat, 0.9, types.WorkModeUnspecified),
	})

	assert.Empty(t, d.Enqueue)
	assert.False(t, d.InterruptConversation)
	assert.Contains(t, d.Notes, "continue conversation")
}

func TestActiveConversationCallRemapsToChat(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
		seg("hey assistant", types.IntentCall, 0.9, types.WorkModeUnspecified),
	})

	assert.Empty(t, d.Enqueue)
	assert.False(t, d.EndInputStage, "a call mid-conversation is just continuation")
	assert.Contains(t, d.Notes, "continue conversation")
}

func TestActiveConversationCompoundRules(t *testing.T) {
	r := New(nil, 0)

	t.Run("direct work plus chat pauses and orders work first", func(t *testing.T) {
		d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
			seg("by the way nice weather", types.IntentChat, 0.85, types.WorkModeUnspecified),
			seg("save the file", types.IntentWork, 0.95, types.WorkModeDirect),
		})
		assert.True(t, d.InterruptConversation)
		assert.True(t, d.EndInputStage)
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.PriorityWorkDirect, d.Enqueue[0].Priority)
	})

	t.Run("background work plus chat keeps both without interrupting", func(t *testing.T) {
		d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
			seg("nice weather", types.IntentChat, 0.85, types.WorkModeUnspecified),
			seg("play music", types.IntentWork, 0.9, types.WorkModeBackground),
		})
		assert.False(t, d.InterruptConversation)
		require.Len(t, d.Enqueue, 1)
		assert.Equal(t, types.PriorityWorkBackground, d.Enqueue[0].Priority)
		assert.Contains(t, d.Notes, "continue conversation")
	})

	t.Run("direct plus background work interrupts with direct first", func(t *testing.T) {
		d := r.Route(context.Background(), ActiveConversation, []types.IntentSegment{
			seg("play music", types.IntentWork, 0.9, types.WorkModeBackground),
			seg("save the file", types.IntentWork, 0.95, types.WorkModeDirect),
		})
		assert.True(t, d.InterruptConversation)
		require.Len(t, d.Enqueue, 2)
		assert.Equal(t, types.PriorityWorkDirect, d.Enqueue[0].Priority)
		assert.Equal(t, types.PriorityWorkBackground, d.Enqueue[1].Priority)
	})
}

func TestActiveTaskChatSetsSuggestEndWork(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveTask, []types.IntentSegment{
		seg("How are you", types.IntentChat, 0.90, types.WorkModeUnspecified),
	})

	assert.Empty(t, d.Enqueue)
	require.NotNil(t, d.Response)
	assert.True(t, d.Response.ChatDetected)
	assert.True(t, d.Response.SuggestEndWork)
	assert.False(t, d.Response.WorkContent)
}

func TestActiveTaskWorkAndUnknownMetadata(t *testing.T) {
	r := New(nil, 0)
	d := r.Route(context.Background(), ActiveTask, []types.IntentSegment{
		seg("also back up the drive", types.IntentWork, 0.9, types.WorkModeBackground),
		seg("hmm", types.IntentUnknown, 0.2, types.WorkModeUnspecified),
		seg("yes use the second one", types.IntentResponse, 0.9, types.WorkModeUnspecified),
	})

	assert.Empty(t, d.Enqueue)
	require.NotNil(t, d.Response)
	assert.True(t, d.Response.WorkContent)
	assert.Equal(t, []types.WorkMode{types.WorkModeBackground}, d.Response.WorkModes)
	assert.True(t, d.Response.UncertainInput)
	assert.False(t, d.Response.SuggestEndWork)
}

func TestRouterNeverPanics(t *testing.T) {
	// A catalog that panics exercises the conservative error path.
	r := New(panicCatalog{}, 0.3)
	d := r.Route(context.Background(), NoSession, []types.IntentSegment{
		seg("do the thing", types.IntentWork, 0.9, types.WorkModeUnspecified),
	})

	assert.Empty(t, d.Enqueue)
	assert.False(t, d.InterruptConversation)
	assert.False(t, d.EndInputStage)
}

type panicCatalog struct{}

func (panicCatalog) Lookup(context.Context, string) ([]types.CatalogMatch, error) {
	panic("catalog exploded")
}
