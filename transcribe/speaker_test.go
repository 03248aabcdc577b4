package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeakerTracker_NoRoleForSingleSpeaker(t *testing.T) {
	tr := NewSpeakerTracker()

	for i := 0; i < 10; i++ {
		role := tr.Track(0, "What about pricing?", 1.5, 3)
		assert.Equal(t, RoleUnknown, role)
	}
}

func TestSpeakerTracker_NoRoleBelowQuestionThreshold(t *testing.T) {
	tr := NewSpeakerTracker()

	tr.Track(0, "What about pricing?", 1.5, 3)
	tr.Track(1, "Let me check.", 1.0, 3)
	tr.Track(0, "How long is onboarding?", 2.0, 4)

	// two combined questions, below the threshold of three
	assert.Equal(t, RoleUnknown, tr.Role(0))
	assert.Equal(t, RoleUnknown, tr.Role(1))
}

func TestSpeakerTracker_AssignsAfterThreshold(t *testing.T) {
	tr := NewSpeakerTracker()

	// speaker 0 asks 4 question-form utterances, speaker 1 asks none
	tr.Track(0, "What is your pricing?", 1.5, 4)
	tr.Track(1, "Our plans start at $99.", 2.0, 5)
	tr.Track(0, "How does support work?", 1.5, 4)
	tr.Track(0, "Can you integrate with Salesforce?", 2.0, 5)
	tr.Track(1, "Yes, natively.", 1.0, 2)
	tr.Track(0, "Would that need extra licensing?", 2.0, 5)

	assert.Equal(t, RoleCustomer, tr.Role(0))
	assert.Equal(t, RoleConsultant, tr.Role(1))
}

func TestSpeakerTracker_NoAssignmentOnEvenSplit(t *testing.T) {
	tr := NewSpeakerTracker()

	tr.Track(0, "What is the price?", 1.0, 4)
	tr.Track(1, "Why do you ask?", 1.0, 4)
	tr.Track(0, "Okay then.", 1.0, 2)
	tr.Track(1, "Noted.", 1.0, 1)

	// one question each: neither the combined threshold nor a majority
	assert.Equal(t, RoleUnknown, tr.Role(0))
	assert.Equal(t, RoleUnknown, tr.Role(1))
}

func TestSpeakerTracker_AssignmentIsMonotonic(t *testing.T) {
	tr := NewSpeakerTracker()

	tr.Track(0, "What is your pricing?", 1.0, 4)
	tr.Track(0, "How does billing work?", 1.0, 4)
	tr.Track(0, "Can I pay yearly?", 1.0, 4)
	tr.Track(1, "Sure, that works.", 1.0, 3)

	assert.Equal(t, RoleCustomer, tr.Role(0))
	assert.Equal(t, RoleConsultant, tr.Role(1))

	// speaker 1 now out-questions speaker 0; roles must not flip
	for i := 0; i < 10; i++ {
		tr.Track(1, "What else should I cover?", 1.0, 5)
	}
	assert.Equal(t, RoleCustomer, tr.Role(0))
	assert.Equal(t, RoleConsultant, tr.Role(1))
}

func TestSpeakerTracker_ResetClearsAssignments(t *testing.T) {
	tr := NewSpeakerTracker()

	tr.Track(0, "What is your pricing?", 1.0, 4)
	tr.Track(0, "How does billing work?", 1.0, 4)
	tr.Track(0, "Can I pay yearly?", 1.0, 4)
	tr.Track(1, "Sure.", 1.0, 1)
	assert.Equal(t, RoleCustomer, tr.Role(0))

	tr.Reset()
	assert.Equal(t, RoleUnknown, tr.Role(0))
	assert.Equal(t, RoleUnknown, tr.Role(1))
}

func TestIsQuestionUtterance(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"What is the price?", true},
		{"what is the price", true},
		{"Tell me about security", true},
		{"Is this available in Europe", true},
		{"That sounds good.", false},
		{"We ship on Friday", false},
		{"Really?", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isQuestionUtterance(tt.text), tt.text)
	}
}
