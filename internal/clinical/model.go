package clinical

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage tracks how much detail has been gathered for an episode.
type Stage string

const (
	StageMentioned     Stage = "mentioned"
	StageExplored      Stage = "explored"
	StageCharacterized Stage = "characterized"
	StageLinked        Stage = "linked"
)

var stageRank = map[Stage]int{
	StageMentioned:     0,
	StageExplored:      1,
	StageCharacterized: 2,
	StageLinked:        3,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Advance returns the later of s and to. Stages never regress.
func (s Stage) Advance(to Stage) Stage {
	if !to.Valid() {
		return s
	}
	if !s.Valid() || stageRank[to] > stageRank[s] {
		return to
	}
	return s
}


type EpisodeStatus string

const (
	StatusActive   EpisodeStatus = "active"
	StatusResolved EpisodeStatus = "resolved"
	StatusChronic  EpisodeStatus = "chronic"
)

func (s EpisodeStatus) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusChronic:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyConstant     Frequency = "constant"
	FrequencyIntermittent Frequency = "intermittent"
	FrequencyOccasional   Frequency = "occasional"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyConstant, FrequencyIntermittent, FrequencyOccasional:
		return true
	}
	return false
}

// ParseFrequency is lenient about case and surrounding whitespace.
func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	return f, f.Valid()
}

type RecommendedAction string

const (
	ActionSelfCare   RecommendedAction = "self-care"
	ActionSeeGP      RecommendedAction = "see-gp"
	ActionUrgentCare RecommendedAction = "urgent-care"
	ActionEmergency  RecommendedAction = "emergency"
)

func (a RecommendedAction) Valid() bool {
	switch a {
	case ActionSelfCare, ActionSeeGP, ActionUrgentCare, ActionEmergency:
		return true
	}
	return false
}

// Symptom is identified by its name within a user's scope, case-insensitively.
type Symptom struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeName trims and case-folds a symptom name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type TimelineEntry struct {
	Date     time.Time `json:"date"`
	Severity *int      `json:"severity,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Episode is a tracked occurrence of a symptom over time.
type Episode struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	SymptomID  uuid.UUID       `json:"symptom_id"`
	Stage      Stage           `json:"stage"`
	Status     EpisodeStatus   `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Severity   *int            `json:"severity,omitempty"`
	Location   *string         `json:"location,omitempty"`
	Frequency  *Frequency      `json:"frequency,omitempty"`
	Triggers   []string        `json:"triggers"`
	Relievers  []string        `json:"relievers"`
	Timeline   []TimelineEntry `json:"timeline"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DetailStage is the stage implied by the details recorded so far, ignoring
// linking: none of severity, location and frequency is mentioned, some is
// explored, all three is characterized.
func (e *Episode) DetailStage() Stage {
	known := 0
	if e.Severity != nil {
		known++
	}
	if e.Location != nil {
		known++
	}
	if e.Frequency != nil {
		known++
	}
	switch known {
	case 0:
		return StageMentioned
	case 3:
		return StageCharacterized
	default:
		return StageExplored
	}
}

// EvidenceWeight scores the episode's detail stage onto (0, 1]. Linking an
// episode to an assessment does not change it.
func (e *Episode) EvidenceWeight() float64 {
	return float64(stageRank[e.DetailStage()]+1) / float64(stageRank[StageCharacterized]+1)
}

// Clone returns a deep copy so working-memory snapshots never alias store rows.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	c := *e
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	if e.Severity != nil {
		v := *e.Severity
		c.Severity = &v
	}
	if e.Location != nil {
		v := *e.Location
		c.Location = &v
	}
	if e.Frequency != nil {
		v := *e.Frequency
		c.Frequency = &v
	}
	c.Triggers = append([]string(nil), e.Triggers...)
	c.Relievers = append([]string(nil), e.Relievers...)
	c.Timeline = append([]TimelineEntry(nil), e.Timeline...)
	return &c
}

func (e *Episode) Validate() error {
	if e.SymptomID == uuid.Nil {
		return &ValidationError{Field: "symptom_id", Reason: "is required"}
	}
	if !e.Stage.Valid() {
		return &ValidationError{Field: "stage", Reason: "unknown stage " + string(e.Stage)}
	}
	if !e.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(e.Status)}
	}
	if e.Severity != nil && (*e.Severity < 1 || *e.Severity > 10) {
		return &ValidationError{Field: "severity", Reason: "must be within [1,10]"}
	}
	if e.Frequency != nil && !e.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "unknown frequency " + string(*e.Frequency)}
	}
	for _, t := range e.Timeline {
		if t.Severity != nil && (*t.Severity < 1 || *t.Severity > 10) {
			return &ValidationError{Field: "timeline.severity", Reason: "must be within [1,10]"}
		}
	}
	return nil
}

// NegativeFinding is an explicitly denied symptom. Immutable once recorded.
type NegativeFinding struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Name           string     `json:"name"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

type LinkedEpisode struct {
	EpisodeID uuid.UUID `json:"episode_id"`
	Weight    float64   `json:"weight"`
	Reasoning string    `json:"reasoning"`
}

// Assessment is the diagnostic hypothesis for one conversation.
type Assessment struct {
	ID                 uuid.UUID         `json:"id"`
	UserID             uuid.UUID         `json:"user_id"`
	ConversationID     uuid.UUID         `json:"conversation_id"`
	Hypothesis         string            `json:"hypothesis"`
	Confidence         float64           `json:"confidence"`
	Differentials      []string          `json:"differentials"`
	Reasoning          string            `json:"reasoning"`
	RecommendedAction  RecommendedAction `json:"recommended_action"`
	LinkedEpisodes     []LinkedEpisode   `json:"linked_episodes"`
	NegativeFindingIDs []uuid.UUID       `json:"negative_finding_ids"`
	Version            int               `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (a *Assessment) Validate() error {
	if a.ConversationID == uuid.Nil {
		return &ValidationError{Field: "conversation_id", Reason: "is required"}
	}
	if a.Confidence < 0 || a.Confidence > 1 || a.Confidence != a.Confidence {
		return &ValidationError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	if !a.RecommendedAction.Valid() {
		return &ValidationError{Field: "recommended_action", Reason: "unknown action " + string(a.RecommendedAction)}
	}
	for _, l := range a.LinkedEpisodes {
		if l.EpisodeID == uuid.Nil {
			return &ValidationError{Field: "linked_episodes.episode_id", Reason: "is required"}
		}
		if l.Weight < 0 || l.Weight > 1 {
			return &ValidationError{Field: "linked_episodes.weight", Reason: "must be within [0,1]"}
		}
	}
	return nil
}
