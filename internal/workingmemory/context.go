package workingmemory

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/clinical"
)

// Phase is the stage of the clinical conversation.
type Phase string

const (
	PhaseGathering    Phase = "Gathering"
	PhaseAssessing    Phase = "Assessing"
	PhaseRecommending Phase = "Recommending"
)

// ConversationContext is the request-scoped snapshot of a user's active
// clinical state. It is owned by one in-flight request and never shared.
type ConversationContext struct {
	UserID            uuid.UUID
	ConversationID    *uuid.UUID
	ActiveSymptoms    []clinical.Symptom
	ActiveEpisodes    []*clinical.Episode
	NegativeFindings  []clinical.NegativeFinding
	CurrentAssessment *clinical.Assessment
	Phase             Phase
	PendingQuestions  []string
	HydratedAt        time.Time

	recentEpisodeBySymptomName map[string]*clinical.Episode
	symptomNames               map[uuid.UUID]string
	hydrated                   bool
}

// New returns an empty, hydrated context. Hydrator.Hydrate is the normal
// constructor; New exists for callers that start from a blank slate.
func New(userID uuid.UUID, conversationID *uuid.UUID, now time.Time) *ConversationContext {
	return &ConversationContext{
		UserID:                     userID,
		ConversationID:             conversationID,
		Phase:                      PhaseGathering,
		HydratedAt:                 now,
		recentEpisodeBySymptomName: make(map[string]*clinical.Episode),
		symptomNames:               make(map[uuid.UUID]string),
		hydrated:                   true,
	}
}

// Hydrated reports whether the context was built by the hydrator or New.
func (c *ConversationContext) Hydrated() bool {
	return c != nil && c.hydrated
}

// RecentEpisode returns the latest active episode for a symptom name.
func (c *ConversationContext) RecentEpisode(name string) (*clinical.Episode, bool) {
	e, ok := c.recentEpisodeBySymptomName[clinical.NormalizeName(name)]
	return e, ok
}

// SetRecentEpisode points the symptom name at e so later mentions in the same
// request see the latest state.
func (c *ConversationContext) SetRecentEpisode(name string, e *clinical.Episode) {
	c.recentEpisodeBySymptomName[clinical.NormalizeName(name)] = e
}

// RecentEpisodes returns a copy of the name → episode index.
func (c *ConversationContext) RecentEpisodes() map[string]*clinical.Episode {
	out := make(map[string]*clinical.Episode, len(c.recentEpisodeBySymptomName))
	for k, v := range c.recentEpisodeBySymptomName {
		out[k] = v
	}
	return out
}

// RememberSymptom records a symptom in the active set if it is not there yet.
func (c *ConversationContext) RememberSymptom(s clinical.Symptom) {
	if _, ok := c.symptomNames[s.ID]; ok {
		return
	}
	c.symptomNames[s.ID] = s.Name
	c.ActiveSymptoms = append(c.ActiveSymptoms, s)
}

// SymptomName resolves a symptom id to its display name.
func (c *ConversationContext) SymptomName(symptomID uuid.UUID) string {
	return c.symptomNames[symptomID]
}

// UpsertActiveEpisode replaces the episode with the same id or appends it.
func (c *ConversationContext) UpsertActiveEpisode(e *clinical.Episode) {
	for i, existing := range c.ActiveEpisodes {
		if existing.ID == e.ID {
			c.ActiveEpisodes[i] = e
			return
		}
	}
	c.ActiveEpisodes = append(c.ActiveEpisodes, e)
}

// RemoveActiveEpisode drops an episode from the active set and from the
// name index when the index still points at it.
func (c *ConversationContext) RemoveActiveEpisode(id uuid.UUID) {
	kept := c.ActiveEpisodes[:0]
	for _, e := range c.ActiveEpisodes {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	c.ActiveEpisodes = kept
	for name, e := range c.recentEpisodeBySymptomName {
		if e.ID == id {
			delete(c.recentEpisodeBySymptomName, name)
		}
	}
}

func (c *ConversationContext) AddNegativeFinding(f clinical.NegativeFinding) {
	c.NegativeFindings = append(c.NegativeFindings, f)
}

// IsDenied reports whether the user denied this symptom inside the window.
func (c *ConversationContext) IsDenied(name string) bool {
	n := clinical.NormalizeName(name)
	for _, f := range c.NegativeFindings {
		if clinical.NormalizeName(f.Name) == n {
			return true
		}
	}
	return false
}
