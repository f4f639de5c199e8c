// Package changes turns workflow outcomes into explicit entity changes and
// collects the status notices emitted along the way.
package changes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
)

// EntityChange is one persisted change reported back to the caller.
type EntityChange struct {
	ID         uuid.UUID `json:"id"`
	Entity     string    `json:"entity"` // episode, assessment
	Action     Action    `json:"action"`
	Name       string    `json:"name,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Outcome is the part of a workflow result that describes persisted writes.
type Outcome struct {
	CreatedEpisodeIDs  []uuid.UUID
	UpdatedEpisodeIDs  []uuid.UUID
	ResolvedEpisodeIDs []uuid.UUID
	AssessmentID       *uuid.UUID
	AssessmentRevised  bool

	// EpisodeNames maps episode id to symptom name for episodes that may no
	// longer be in working memory, e.g. resolved ones.
	EpisodeNames map[uuid.UUID]string
}

// DeriveChanges maps an outcome onto entity changes. The result is never nil.
func DeriveChanges(o Outcome, wm *workingmemory.ConversationContext) []EntityChange {
	out := make([]EntityChange, 0, len(o.CreatedEpisodeIDs)+len(o.UpdatedEpisodeIDs)+len(o.ResolvedEpisodeIDs)+1)
	add := func(ids []uuid.UUID, action Action) {
		for _, id := range ids {
			out = append(out, EntityChange{ID: id, Entity: "episode", Action: action, Name: episodeName(o, wm, id)})
		}
	}
	add(o.CreatedEpisodeIDs, ActionCreated)
	add(o.UpdatedEpisodeIDs, ActionUpdated)
	add(o.ResolvedEpisodeIDs, ActionRemoved)

	if o.AssessmentID != nil {
		c := EntityChange{ID: *o.AssessmentID, Entity: "assessment", Action: ActionCreated}
		if o.AssessmentRevised {
			c.Action = ActionUpdated
		}
		if wm != nil && wm.CurrentAssessment != nil && wm.CurrentAssessment.ID == *o.AssessmentID {
			conf := wm.CurrentAssessment.Confidence
			c.Confidence = &conf
			c.Name = wm.CurrentAssessment.Hypothesis
		}
		out = append(out, c)
	}
	return out
}

func episodeName(o Outcome, wm *workingmemory.ConversationContext, id uuid.UUID) string {
	if name, ok := o.EpisodeNames[id]; ok {
		return name
	}
	if wm == nil {
		return ""
	}
	for _, e := range wm.ActiveEpisodes {
		if e.ID == id {
			return wm.SymptomName(e.SymptomID)
		}
	}
	return ""
}

// Notifier pushes status updates to the user's clients. Delivery is best
// effort and Notify must return without waiting on the transport.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, u StatusUpdate)
}

// NopNotifier drops every update.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, uuid.UUID, *uuid.UUID, StatusUpdate) {}

// Tracker records the status updates of one request.
type Tracker struct {
	mu             sync.Mutex
	updates        []StatusUpdate
	notifier       Notifier
	userID         uuid.UUID
	conversationID *uuid.UUID
	now            func() time.Time
}

func NewTracker(userID uuid.UUID, conversationID *uuid.UUID, notifier Notifier) *Tracker {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Tracker{
		userID:         userID,
		conversationID: conversationID,
		notifier:       notifier,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Emit records u and forwards it to the notifier.
func (t *Tracker) Emit(ctx context.Context, u StatusUpdate) {
	if u.Timestamp.IsZero() {
		u.Timestamp = t.now()
	}
	t.mu.Lock()
	t.updates = append(t.updates, u)
	t.mu.Unlock()

	t.notifier.Notify(ctx, t.userID, t.conversationID, u)
}

// CollectStatusUpdates returns the updates emitted so far, in order. The
// slice is never nil.
func (t *Tracker) CollectStatusUpdates() []StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StatusUpdate, len(t.updates))
	copy(out, t.updates)
	return out
}
