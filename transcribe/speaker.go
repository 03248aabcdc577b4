package transcribe

import (
	"strings"
	"sync"
)

// Role is the inferred conversational role of a numeric speaker id.
type Role int

const (
	RoleUnknown Role = iota
	RoleCustomer
	RoleConsultant
)

// String returns the wire form of the role.
func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleConsultant:
		return "consultant"
	default:
		return "unknown"
	}
}

// SpeakerStats accumulates per-speaker utterance statistics.
type SpeakerStats struct {
	UtteranceCount int
	QuestionCount  int
	WordCount      int
	TotalDuration  float64
}

// questionWords is the fixed interrogative prefix list. An utterance counts
// as a question when it ends with "?" or starts with one of these.
var questionWords = []string{
	"what", "how", "why", "when", "where", "who", "which",
	"can", "could", "would", "should", "is", "are", "do", "does", "did",
	"tell me",
}

// SpeakerTracker infers customer/consultant roles from utterance statistics.
// The speaker who asks more questions is taken to be the customer. Once
// roles are assigned they hold for the rest of the session.
type SpeakerTracker struct {
	mu    sync.Mutex
	stats map[int]*SpeakerStats
	roles map[int]Role
}

// NewSpeakerTracker creates an empty tracker.
func NewSpeakerTracker() *SpeakerTracker {
	return &SpeakerTracker{
		stats: make(map[int]*SpeakerStats),
		roles: make(map[int]Role),
	}
}

// Track records one utterance and returns the speaker's current role.
func (t *SpeakerTracker) Track(speakerID int, text string, duration float64, wordCount int) Role {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.stats[speakerID]
	if !ok {
		stats = &SpeakerStats{}
		t.stats[speakerID] = stats
	}
	stats.UtteranceCount++
	stats.WordCount += wordCount
	stats.TotalDuration += duration

	if isQuestionUtterance(text) {
		stats.QuestionCount++
	}

	t.updateAssignments()

	return t.roles[speakerID]
}

// Role returns the current assignment for a speaker.
func (t *SpeakerTracker) Role(speakerID int) Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roles[speakerID]
}

// Reset clears all statistics and assignments.
func (t *SpeakerTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[int]*SpeakerStats)
	t.roles = make(map[int]Role)
}

// updateAssignments assigns roles once two speakers have at least three
// combined questions with a strict majority. Assignments are monotonic:
// once made they never flip within a session.
func (t *SpeakerTracker) updateAssignments() {
	if len(t.roles) > 0 || len(t.stats) < 2 {
		return
	}

	mostID, leastID := -1, -1
	mostQ, leastQ := -1, -1
	for id, s := range t.stats {
		switch {
		case s.QuestionCount > mostQ || (s.QuestionCount == mostQ && id < mostID):
			leastID, leastQ = mostID, mostQ
			mostID, mostQ = id, s.QuestionCount
		case s.QuestionCount > leastQ || (s.QuestionCount == leastQ && id < leastID):
			leastID, leastQ = id, s.QuestionCount
		}
	}

	if mostQ+leastQ >= 3 && mostQ > leastQ {
		t.roles[mostID] = RoleCustomer
		t.roles[leastID] = RoleConsultant
	}
}

func isQuestionUtterance(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(lower, "?") {
		return true
	}
	for _, qw := range questionWords {
		if strings.HasPrefix(lower, qw) {
			return true
		}
	}
	return false
}
