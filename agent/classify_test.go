package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"Have you considered the annual plan?", KindQuestion},
		{"Ask what their current stack looks like?", KindQuestion},
		{"Acknowledge their concern about migration time, then share the rollout plan.", KindObjection},
		{"Address the pushback on price with the ROI calculator.", KindObjection},
		{"Note that the SOC 2 report is available under NDA.", KindInfo},
		{"Keep in mind the discount expires Friday.", KindInfo},
		{"The enterprise tier includes SSO and audit logs.", KindAnswer},
		{"Walk them through the migration timeline.", KindAnswer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyKind(tt.text), tt.text)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "answer", KindAnswer.String())
	assert.Equal(t, "question", KindQuestion.String())
	assert.Equal(t, "objection", KindObjection.String())
	assert.Equal(t, "info", KindInfo.String())
}

func TestScoreConfidence(t *testing.T) {
	assert.Equal(t, 0.0, scoreConfidence(""))

	base := scoreConfidence("Plain short answer.")
	assert.InDelta(t, 0.7, base, 1e-9)

	structured := scoreConfidence("Key points:\n- pricing\n- onboarding")
	assert.InDelta(t, 0.8, structured, 1e-9)

	hedged := scoreConfidence("I'm not sure, but it might work.")
	assert.InDelta(t, 0.5, hedged, 1e-9)

	long := scoreConfidence(strings.Repeat("word ", 100) + "end.")
	assert.InDelta(t, 0.8, long, 1e-9)
}
