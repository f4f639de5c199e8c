package workflow

import "strings"

type Intent string

const (
	IntentSymptomTracking Intent = "symptom_tracking"
	IntentAssessment      Intent = "assessment"
)

var assessmentKeywords = []string{
	"generate assessment",
	"create assessment",
	"assessment",
	"assess",
	"diagnosis",
	"evaluate",
	"evaluation",
}

// Classify picks the workflow for a message. Anything that does not ask for
// an assessment is symptom tracking.
func Classify(message string) Intent {
	m := strings.ToLower(message)
	for _, kw := range assessmentKeywords {
		if strings.Contains(m, kw) {
			return IntentAssessment
		}
	}
	return IntentSymptomTracking
}
