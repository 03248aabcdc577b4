// Package transcribe owns the upstream streaming-transcription connection
// for one call: audio buffering, the receive loop, reconnection, speaker
// role inference, and the degraded fallback producer.
package transcribe

// Word is one recognized word with its timing and speaker attribution.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    int     `json:"speaker"`
}

// Event is one partial or final transcription result, enriched with the
// speaker role resolved by the tracker.
type Event struct {
	Text       string
	SpeakerID  int
	Role       Role
	IsFinal    bool
	Confidence float64
	StartTime  float64
	EndTime    float64
	Words      []Word
}
