package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cadence/internal/logging"
	"cadence/internal/types"

	"google.golang.org/genai"
)

// GenAIClassifier labels intent spans with Google's Gemini API. Callers are
// expected to keep a KeywordClassifier as fallback for when the API is
// unreachable.
type GenAIClassifier struct {
	client *genai.Client
	model  string
}

// NewGenAIClassifier creates a classifier backed by the GenAI API.
func NewGenAIClassifier(apiKey, model string) (*GenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClassifier{client: client, model: model}, nil
}

const classifyPrompt = `Split the user utterance into intent segments and label each one.
Kinds: call (wake word / attention), chat (conversation), work (a request to do something), response (answer to a question), unknown.
For work segments set mode to "direct" (do it now) or "background" (do it quietly later).
Reply with ONLY a JSON array, no prose:
[{"text": "...", "kind": "chat", "confidence": 0.9, "mode": ""}]

Utterance: %s`

type wireSegment struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Mode       string  `json:"mode"`
}

// Classify asks the model for labeled spans and parses them into segments.
func (g *GenAIClassifier) Classify(ctx context.Context, utterance string) ([]types.IntentSegment, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(classifyPrompt, utterance), genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("GenAI classification failed: %w", err)
	}

	segments, err := parseSegments(result.Text())
	if err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryClassify).Debug("genai classifier: %d segments from %q", len(segments), utterance)
	return segments, nil
}

// parseSegments decodes the model's JSON reply, tolerating code fences.
func parseSegments(reply string) ([]types.IntentSegment, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var wire []wireSegment
	if err := json.Unmarshal([]byte(reply), &wire); err != nil {
		return nil, fmt.Errorf("unparseable classifier reply: %w", err)
	}

	segments := make([]types.IntentSegment, 0, len(wire))
	for _, w := range wire {
		kind := types.IntentKind(w.Kind)
		switch kind {
		case types.IntentCall, types.IntentChat, types.IntentWork, types.IntentResponse:
		default:
			kind = types.IntentUnknown
		}
		mode := types.WorkMode(w.Mode)
		switch mode {
		case types.WorkModeDirect, types.WorkModeBackground:
		default:
			mode = types.WorkModeUnspecified
		}
		segments = append(segments, types.NewIntentSegment(w.Text, kind, w.Confidence, mode))
	}
	return segments, nil
}
