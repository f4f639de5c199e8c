package changes

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/clinical"
)

// Kind tags a StatusUpdate variant. Consumers switch on it; the payload
// field matching the kind is the only one set.
type Kind string

const (
	KindGeneral              Kind = "general"
	KindGatheringDetails     Kind = "gathering_details"
	KindSymptomAdded         Kind = "symptom_added"
	KindSymptomUpdated       Kind = "symptom_updated"
	KindSymptomResolved      Kind = "symptom_resolved"
	KindAssessmentGenerating Kind = "assessment_generating"
	KindAssessmentComplete   Kind = "assessment_complete"
	KindAssessmentSuggested  Kind = "assessment_suggested"
)

// StatusUpdate is an ephemeral progress notice emitted while a workflow runs.
type StatusUpdate struct {
	Kind       Kind              `json:"kind"`
	Message    string            `json:"message"`
	Symptom    *SymptomStatus    `json:"symptom,omitempty"`
	Gathering  *GatheringStatus  `json:"gathering,omitempty"`
	Assessment *AssessmentStatus `json:"assessment,omitempty"`
	Suggestion *SuggestionStatus `json:"suggestion,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type SymptomStatus struct {
	EpisodeID uuid.UUID      `json:"episode_id"`
	Name      string         `json:"name"`
	Severity  *int           `json:"severity,omitempty"`
	Stage     clinical.Stage `json:"stage"`
}

type GatheringStatus struct {
	Symptom string   `json:"symptom"`
	Missing []string `json:"missing"`
}

type AssessmentStatus struct {
	AssessmentID      uuid.UUID                  `json:"assessment_id,omitempty"`
	Confidence        float64                    `json:"confidence,omitempty"`
	RecommendedAction clinical.RecommendedAction `json:"recommended_action,omitempty"`
	EpisodeCount      int                        `json:"episode_count"`
}

type SuggestionStatus struct {
	ActiveEpisodes int `json:"active_episodes"`
}

func General(message string) StatusUpdate {
	return StatusUpdate{Kind: KindGeneral, Message: message}
}

func GatheringDetails(symptom string, missing []string) StatusUpdate {
	return StatusUpdate{
		Kind:      KindGatheringDetails,
		Message:   fmt.Sprintf("Gathering details about %s", symptom),
		Gathering: &GatheringStatus{Symptom: symptom, Missing: missing},
	}
}

func SymptomAdded(name string, e *clinical.Episode) StatusUpdate {
	return symptomUpdate(KindSymptomAdded, fmt.Sprintf("Tracking %s", name), name, e)
}

func SymptomUpdated(name string, e *clinical.Episode) StatusUpdate {
	return symptomUpdate(KindSymptomUpdated, fmt.Sprintf("Updated %s", name), name, e)
}

func SymptomResolved(name string, e *clinical.Episode) StatusUpdate {
	return symptomUpdate(KindSymptomResolved, fmt.Sprintf("Marked %s as resolved", name), name, e)
}

func symptomUpdate(kind Kind, msg, name string, e *clinical.Episode) StatusUpdate {
	s := &SymptomStatus{EpisodeID: e.ID, Name: name, Stage: e.Stage}
	if e.Severity != nil {
		v := *e.Severity
		s.Severity = &v
	}
	return StatusUpdate{Kind: kind, Message: msg, Symptom: s}
}

func AssessmentGenerating(episodeCount int) StatusUpdate {
	return StatusUpdate{
		Kind:       KindAssessmentGenerating,
		Message:    "Generating assessment",
		Assessment: &AssessmentStatus{EpisodeCount: episodeCount},
	}
}

func AssessmentComplete(a *clinical.Assessment) StatusUpdate {
	return StatusUpdate{
		Kind:    KindAssessmentComplete,
		Message: "Assessment complete",
		Assessment: &AssessmentStatus{
			AssessmentID:      a.ID,
			Confidence:        a.Confidence,
			RecommendedAction: a.RecommendedAction,
			EpisodeCount:      len(a.LinkedEpisodes),
		},
	}
}

func AssessmentSuggested(activeEpisodes int) StatusUpdate {
	return StatusUpdate{
		Kind:       KindAssessmentSuggested,
		Message:    "Enough symptoms are tracked to generate an assessment",
		Suggestion: &SuggestionStatus{ActiveEpisodes: activeEpisodes},
	}
}

// Data flattens the variant payload for transports that carry a generic map.
func (u StatusUpdate) Data() map[string]any {
	switch u.Kind {
	case KindSymptomAdded, KindSymptomUpdated, KindSymptomResolved:
		if u.Symptom == nil {
			return nil
		}
		d := map[string]any{"episode_id": u.Symptom.EpisodeID, "name": u.Symptom.Name, "stage": u.Symptom.Stage}
		if u.Symptom.Severity != nil {
			d["severity"] = *u.Symptom.Severity
		}
		return d
	case KindGatheringDetails:
		if u.Gathering == nil {
			return nil
		}
		return map[string]any{"symptom": u.Gathering.Symptom, "missing": u.Gathering.Missing}
	case KindAssessmentGenerating, KindAssessmentComplete:
		if u.Assessment == nil {
			return nil
		}
		d := map[string]any{"episode_count": u.Assessment.EpisodeCount}
		if u.Kind == KindAssessmentComplete {
			d["assessment_id"] = u.Assessment.AssessmentID
			d["confidence"] = u.Assessment.Confidence
			d["recommended_action"] = u.Assessment.RecommendedAction
		}
		return d
	case KindAssessmentSuggested:
		if u.Suggestion == nil {
			return nil
		}
		return map[string]any{"active_episodes": u.Suggestion.ActiveEpisodes}
	}
	return nil
}
