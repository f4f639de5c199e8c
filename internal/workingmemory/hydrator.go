package workingmemory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/metrics"
)

// HydrationError reports which store read failed while building a context.
type HydrationError struct {
	Op  string
	Err error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrating working memory (%s): %v", e.Op, e.Err)
}

func (e *HydrationError) Unwrap() error { return e.Err }

// Windows bounds what hydration considers "recent".
type Windows struct {
	Episodes         time.Duration
	NegativeFindings time.Duration
}

// DefaultWindows are the 14-day episode and 7-day negative-finding windows.
func DefaultWindows() Windows {
	return Windows{
		Episodes:         14 * 24 * time.Hour,
		NegativeFindings: 7 * 24 * time.Hour,
	}
}

// Hydrator builds ConversationContext snapshots from the clinical store.
type Hydrator struct {
	store   clinical.Store
	windows Windows
	now     func() time.Time
}

// NewHydrator creates a new Hydrator.
func NewHydrator(store clinical.Store, windows Windows) *Hydrator {
	return &Hydrator{
		store:   store,
		windows: windows,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the hydrator's notion of "now".
func (h *Hydrator) WithClock(now func() time.Time) *Hydrator {
	h.now = now
	return h
}

// Hydrate loads the user's active clinical state. The four reads are
// independent and run concurrently; all must succeed.
func (h *Hydrator) Hydrate(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (*ConversationContext, error) {
	start := time.Now()
	now := h.now()

	var (
		episodes   []clinical.Episode
		symptoms   []clinical.Symptom
		findings   []clinical.NegativeFinding
		assessment *clinical.Assessment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		episodes, err = h.store.ListActiveEpisodes(gctx, userID, now.Add(-h.windows.Episodes))
		if err != nil {
			return &HydrationError{Op: "episodes", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		symptoms, err = h.store.ListSymptoms(gctx, userID)
		if err != nil {
			return &HydrationError{Op: "symptoms", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		findings, err = h.store.ListNegativeFindings(gctx, userID, now.Add(-h.windows.NegativeFindings))
		if err != nil {
			return &HydrationError{Op: "negative findings", Err: err}
		}
		return nil
	})
	if conversationID != nil {
		g.Go(func() error {
			a, err := h.store.GetAssessmentByConversation(gctx, userID, *conversationID)
			if err != nil {
				if errors.Is(err, clinical.ErrNotFound) {
					return nil
				}
				return &HydrationError{Op: "assessment", Err: err}
			}
			assessment = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	wm := New(userID, conversationID, now)
	findingsSince := now.Add(-h.windows.NegativeFindings)
	for _, f := range findings {
		if !f.RecordedAt.Before(findingsSince) {
			wm.AddNegativeFinding(f)
		}
	}
	wm.CurrentAssessment = assessment
	if assessment != nil {
		wm.Phase = PhaseAssessing
	}

	symptomByID := make(map[uuid.UUID]clinical.Symptom, len(symptoms))
	for _, s := range symptoms {
		symptomByID[s.ID] = s
	}

	for i := range episodes {
		e := &episodes[i]
		// Windows are re-checked here as well as in the store query.
		if e.Status != clinical.StatusActive || e.StartedAt.Before(now.Add(-h.windows.Episodes)) {
			continue
		}
		sym, ok := symptomByID[e.SymptomID]
		if !ok {
			return nil, &HydrationError{
				Op:  "episodes",
				Err: fmt.Errorf("episode %s references unknown symptom %s", e.ID, e.SymptomID),
			}
		}
		wm.RememberSymptom(sym)
		wm.ActiveEpisodes = append(wm.ActiveEpisodes, e)

		name := clinical.NormalizeName(sym.Name)
		if current, ok := wm.recentEpisodeBySymptomName[name]; !ok || moreRecent(e, current) {
			wm.recentEpisodeBySymptomName[name] = e
		}
	}

	metrics.HydrationDuration.Observe(time.Since(start).Seconds())
	slog.Debug("working memory hydrated",
		"user_id", userID,
		"episodes", len(wm.ActiveEpisodes),
		"negative_findings", len(wm.NegativeFindings),
		"phase", wm.Phase,
	)
	return wm, nil
}

// moreRecent orders by startedAt, breaking ties on the higher id.
func moreRecent(a, b *clinical.Episode) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) > 0
}

// Flush is a synchronization point for batched writers. Workflows persist
// eagerly, so there is nothing to write; it is always safe to call.
func (h *Hydrator) Flush(_ context.Context, _ *ConversationContext) error {
	return nil
}
