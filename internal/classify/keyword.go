// Package classify provides intent classifiers: a deterministic keyword
// classifier used as the default and offline fallback, and a GenAI-backed
// classifier for richer segmentation.
package classify

import (
	"context"
	"strings"

	"cadence/internal/logging"
	"cadence/internal/types"
)

// KeywordClassifier labels intent spans with fixed keyword tables. It is
// deterministic and never fails, which makes it the safe fallback when the
// GenAI classifier is unavailable.
type KeywordClassifier struct {
	wakeWords []string
}

// NewKeywordClassifier builds a classifier with the default wake words.
func NewKeywordClassifier(extraWakeWords ...string) *KeywordClassifier {
	return &KeywordClassifier{
		wakeWords: append([]string{"hey cadence", "hello cadence"}, extraWakeWords...),
	}
}

var workVerbs = map[string]types.WorkMode{
	"open":     types.WorkModeDirect,
	"save":     types.WorkModeDirect,
	"close":    types.WorkModeDirect,
	"run":      types.WorkModeDirect,
	"create":   types.WorkModeDirect,
	"delete":   types.WorkModeDirect,
	"stop":     types.WorkModeDirect,
	"send":     types.WorkModeDirect,
	"play":     types.WorkModeBackground,
	"download": types.WorkModeBackground,
	"backup":   types.WorkModeBackground,
	"sync":     types.WorkModeBackground,
	"organize": types.WorkModeBackground,
}

var chatOpeners = []string{
	"how", "what", "why", "who", "when", "where", "tell me", "do you",
	"hello", "hi ", "good morning", "good evening", "thanks", "thank you",
}

var responseWords = map[string]bool{
	"yes": true, "no": true, "sure": true, "okay": true, "ok": true,
	"yep": true, "nope": true, "correct": true,
}

// Classify splits the utterance into sentence spans and labels each one.
// It never returns an error.
func (k *KeywordClassifier) Classify(_ context.Context, utterance string) ([]types.IntentSegment, error) {
	spans := splitSpans(utterance)
	segments := make([]types.IntentSegment, 0, len(spans))
	for _, span := range spans {
		segments = append(segments, k.classifySpan(span))
	}
	logging.Get(logging.CategoryClassify).Debug("keyword classifier: %d segments from %q", len(segments), utterance)
	return segments, nil
}

func (k *KeywordClassifier) classifySpan(span string) types.IntentSegment {
	lower := strings.ToLower(strings.TrimSpace(span))

	// A bare "cadence" span is a summon; punctuation was already stripped
	// by splitSpans, so only the whole-span form counts here.
	if lower == "cadence" {
		return types.NewIntentSegment(span, types.IntentCall, 0.9, types.WorkModeUnspecified)
	}

	for _, wake := range k.wakeWords {
		if strings.Contains(lower, wake) {
			return types.NewIntentSegment(span, types.IntentCall, 0.9, types.WorkModeUnspecified)
		}
	}

	words := strings.Fields(lower)
	if len(words) == 0 {
		return types.NewIntentSegment(span, types.IntentUnknown, 0.1, types.WorkModeUnspecified)
	}

	if len(words) <= 2 && responseWords[strings.Trim(words[0], ",.")] {
		return types.NewIntentSegment(span, types.IntentResponse, 0.8, types.WorkModeUnspecified)
	}

	if mode, isWork := workVerbs[strings.Trim(words[0], ",.")]; isWork {
		if strings.Contains(lower, "later") || strings.Contains(lower, "in the background") || strings.Contains(lower, "when you can") {
			mode = types.WorkModeBackground
		}
		return types.NewIntentSegment(span, types.IntentWork, 0.85, mode)
	}

	for _, opener := range chatOpeners {
		if strings.HasPrefix(lower, opener) {
			return types.NewIntentSegment(span, types.IntentChat, 0.8, types.WorkModeUnspecified)
		}
	}

	return types.NewIntentSegment(span, types.IntentUnknown, 0.3, types.WorkModeUnspecified)
}

// splitSpans cuts an utterance into rough sentence spans.
func splitSpans(utterance string) []string {
	fields := strings.FieldsFunc(utterance, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 && strings.TrimSpace(utterance) != "" {
		out = append(out, strings.TrimSpace(utterance))
	}
	return out
}
