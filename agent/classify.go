package agent

import "strings"

// Kind categorizes a generated suggestion so the client can render it
// appropriately.
type Kind int

const (
	KindAnswer Kind = iota
	KindQuestion
	KindObjection
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindAnswer:
		return "answer"
	case KindQuestion:
		return "question"
	case KindObjection:
		return "objection"
	case KindInfo:
		return "info"
	default:
		return "answer"
	}
}

var objectionMarkers = []string{
	"concern",
	"objection",
	"pushback",
	"hesitat",
	"worried",
	"acknowledge their",
	"understand their",
}

var infoMarkers = []string{
	"note that",
	"keep in mind",
	"for reference",
	"for context",
	"background:",
	"fyi",
}

// classifyKind buckets a suggestion by lightweight content markers. A
// text ending in a question mark is advice to ask something; objection and
// info markers are checked next; everything else is a direct answer.
func classifyKind(text string) Kind {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return KindQuestion
	}

	lower := strings.ToLower(trimmed)
	for _, m := range objectionMarkers {
		if strings.Contains(lower, m) {
			return KindObjection
		}
	}
	for _, m := range infoMarkers {
		if strings.Contains(lower, m) {
			return KindInfo
		}
	}
	return KindAnswer
}

var uncertaintyMarkers = []string{
	"i'm not sure",
	"i don't know",
	"might be",
	"possibly",
	"unclear",
}

// scoreConfidence is a length-and-structure heuristic, not a calibrated
// probability.
func scoreConfidence(text string) float64 {
	if text == "" {
		return 0.0
	}

	confidence := 0.7

	for _, m := range []string{"**", "- ", "* "} {
		if strings.Contains(text, m) {
			confidence += 0.1
			break
		}
	}

	words := len(strings.Fields(text))
	if words >= 50 && words <= 300 {
		confidence += 0.1
	}

	lower := strings.ToLower(text)
	for _, m := range uncertaintyMarkers {
		if strings.Contains(lower, m) {
			confidence -= 0.2
			break
		}
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
