package transcribe

// DegradedSource is the configuration-gated fallback producer used when the
// upstream provider is unavailable. It keeps the rest of the pipeline
// functional by emitting deterministic placeholder transcripts at a fixed
// cadence of audio sends.
type DegradedSource struct {
	interval int
	count    int
	phrase   int
	phrases  []string
}

// defaultDegradedPhrases cycles through question-form utterances so the
// downstream suggestion path gets exercised too.
var defaultDegradedPhrases = []string{
	"What is your pricing for cloud migration?",
	"How long does implementation typically take?",
	"Can you tell me about your security certifications?",
	"What kind of support do you offer?",
	"How does this integrate with our existing systems?",
}

// NewDegradedSource creates a source that emits one placeholder transcript
// per interval audio sends.
func NewDegradedSource(interval int) *DegradedSource {
	if interval <= 0 {
		interval = 100
	}
	return &DegradedSource{interval: interval, phrases: defaultDegradedPhrases}
}

// Feed counts one audio send and, every interval sends, returns the next
// placeholder transcript.
func (d *DegradedSource) Feed() (Event, bool) {
	d.count++
	if d.count < d.interval {
		return Event{}, false
	}
	d.count = 0

	text := d.phrases[d.phrase%len(d.phrases)]
	d.phrase++

	return Event{
		Text:       text,
		SpeakerID:  0,
		Role:       RoleCustomer,
		IsFinal:    true,
		Confidence: 0.95,
		StartTime:  0.0,
		EndTime:    2.0,
	}, true
}
