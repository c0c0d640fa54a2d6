package classify

import (
	"context"
	"testing"

	"cadence/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifyOne(t *testing.T, utterance string) types.IntentSegment {
	t.Helper()
	segments, err := NewKeywordClassifier().Classify(context.Background(), utterance)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	return segments[0]
}

func TestKeywordWakeWordIsCall(t *testing.T) {
	seg := classifyOne(t, "Hey cadence")
	assert.Equal(t, types.IntentCall, seg.Kind)
	assert.Equal(t, types.PriorityCall, seg.Priority)
}

func TestKeywordBareNameIsCall(t *testing.T) {
	// Sentence splitting strips the punctuation, so "Cadence?" arrives as a
	// bare-name span.
	seg := classifyOne(t, "Cadence?")
	assert.Equal(t, types.IntentCall, seg.Kind)
	assert.Equal(t, types.PriorityCall, seg.Priority)
}

func TestKeywordMidSentenceNameIsNotCall(t *testing.T) {
	seg := classifyOne(t, "Download the cadence charts")
	assert.Equal(t, types.IntentWork, seg.Kind)
}

func TestKeywordImperativeIsWork(t *testing.T) {
	t.Run("direct verb", func(t *testing.T) {
		seg := classifyOne(t, "Open the budget file")
		assert.Equal(t, types.IntentWork, seg.Kind)
		assert.Equal(t, types.WorkModeDirect, seg.Mode)
		assert.Equal(t, types.PriorityWorkDirect, seg.Priority)
	})

	t.Run("background verb", func(t *testing.T) {
		seg := classifyOne(t, "Play some jazz")
		assert.Equal(t, types.IntentWork, seg.Kind)
		assert.Equal(t, types.WorkModeBackground, seg.Mode)
	})

	t.Run("later hint forces background", func(t *testing.T) {
		seg := classifyOne(t, "Send the report later")
		assert.Equal(t, types.IntentWork, seg.Kind)
		assert.Equal(t, types.WorkModeBackground, seg.Mode)
	})
}

func TestKeywordQuestionIsChat(t *testing.T) {
	seg := classifyOne(t, "How are you today")
	assert.Equal(t, types.IntentChat, seg.Kind)
	assert.Equal(t, types.PriorityChat, seg.Priority)
}

func TestKeywordShortAffirmationIsResponse(t *testing.T) {
	seg := classifyOne(t, "yes")
	assert.Equal(t, types.IntentResponse, seg.Kind)
}

func TestKeywordGibberishIsUnknown(t *testing.T) {
	seg := classifyOne(t, "fhqwhgads blorp")
	assert.Equal(t, types.IntentUnknown, seg.Kind)
	assert.Equal(t, types.PriorityUnknown, seg.Priority)
}

func TestKeywordSplitsCompoundUtterance(t *testing.T) {
	segments, err := NewKeywordClassifier().Classify(context.Background(), "How's the weather? Save the file.")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, types.IntentChat, segments[0].Kind)
	assert.Equal(t, types.IntentWork, segments[1].Kind)
}

func TestParseSegmentsToleratesCodeFences(t *testing.T) {
	reply := "```json\n[{\"text\": \"save it\", \"kind\": \"work\", \"confidence\": 0.92, \"mode\": \"direct\"}]\n```"
	segments, err := parseSegments(reply)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, types.IntentWork, segments[0].Kind)
	assert.Equal(t, types.WorkModeDirect, segments[0].Mode)
	assert.Equal(t, types.PriorityWorkDirect, segments[0].Priority)
}

func TestParseSegmentsNormalizesUnknownLabels(t *testing.T) {
	reply := `[{"text": "x", "kind": "musing", "confidence": 0.5, "mode": "sideways"}]`
	segments, err := parseSegments(reply)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, types.IntentUnknown, segments[0].Kind)
	assert.Equal(t, types.WorkModeUnspecified, segments[0].Mode)
}

func TestParseSegmentsRejectsProse(t *testing.T) {
	_, err := parseSegments("Sure! Here are the segments you asked for.")
	assert.Error(t, err)
}
