package types

// IntentKind labels one classified span of user input.
type IntentKind string

const (
	IntentCall     IntentKind = "call"
	IntentChat     IntentKind = "chat"
	IntentWork     IntentKind = "work"
	IntentResponse IntentKind = "response"
	IntentUnknown  IntentKind = "unknown"
)

// WorkMode distinguishes work that preempts an open conversation from work
// that runs quietly behind it.
type WorkMode string

const (
	WorkModeUnspecified WorkMode = ""
	WorkModeDirect      WorkMode = "direct"
	WorkModeBackground  WorkMode = "background"
)

// Fixed routing priorities. Direct work outranks everything; unknown input
// is only ever dropped or deferred.
const (
	PriorityWorkDirect     = 100
	PriorityCall           = 70
	PriorityChat           = 50
	PriorityWorkBackground = 30
	PriorityUnknown        = 10
)

// IntentSegment is one classified span of an utterance, as produced by the
// external classifier. The core never mutates a segment except to correct
// its work mode via the task catalog.
type IntentSegment struct {
	Text       string
	Kind       IntentKind
	Confidence float64
	Priority   int
	Mode       WorkMode
	Metadata   map[string]string
}

// NewIntentSegment builds a segment with its priority derived from the kind
// and mode. Callers that already carry an explicit priority can set it after
// construction; the router trusts Kind/Mode over Priority.
func NewIntentSegment(text string, kind IntentKind, confidence float64, mode WorkMode) IntentSegment {
	return IntentSegment{
		Text:       text,
		Kind:       kind,
		Confidence: confidence,
		Priority:   PriorityFor(kind, mode),
		Mode:       mode,
	}
}

// PriorityFor returns the fixed priority for a kind/mode pair.
func PriorityFor(kind IntentKind, mode WorkMode) int {
	switch kind {
	case IntentWork:
		if mode == WorkModeBackground {
			return PriorityWorkBackground
		}
		return PriorityWorkDirect
	case IntentCall:
		return PriorityCall
	case IntentChat, IntentResponse:
		return PriorityChat
	default:
		return PriorityUnknown
	}
}

// CatalogMatch is one candidate from the task catalog for a work segment.
type CatalogMatch struct {
	TaskName  string
	Relevance float64
	Mode      WorkMode
}
