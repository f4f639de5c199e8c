// Package episodes links symptom mentions to tracked episodes.
//
// Mentions are matched by normalized symptom name against the working-memory
// index of recently active episodes. Synonyms are not merged.
package episodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/metrics"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// Details carries newly observed attributes. Nil fields are "not mentioned"
// and leave the stored value untouched.
type Details struct {
	Severity  *int
	Location  *string
	Frequency *clinical.Frequency
	Triggers  []string
	Relievers []string
	Notes     string
}

// LinkResult describes what LinkOrCreate did.
type LinkResult struct {
	Episode        *clinical.Episode
	Created        bool
	SymptomCreated bool
}

// Linker deduplicates symptom mentions against working memory.
type Linker struct {
	store clinical.Store
	now   func() time.Time
}

func NewLinker(store clinical.Store) *Linker {
	return &Linker{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the linker's notion of "now".
func (l *Linker) WithClock(now func() time.Time) *Linker {
	l.now = now
	return l
}

// LinkOrCreate updates the recent active episode for name, or creates a new
// symptom/episode pair when there is none. New episodes always start at
// StageMentioned; later mentions advance the stage as detail accumulates.
func (l *Linker) LinkOrCreate(ctx context.Context, name string, d Details, wm *workingmemory.ConversationContext) (*LinkResult, error) {
	normalized := clinical.NormalizeName(name)
	if normalized == "" {
		return nil, fmt.Errorf("linking episode: empty symptom name")
	}
	if d.Severity != nil && (*d.Severity < 1 || *d.Severity > 10) {
		return nil, &clinical.ValidationError{Field: "severity", Reason: "must be within [1,10]"}
	}

	if existing, ok := wm.RecentEpisode(normalized); ok && existing.Status == clinical.StatusActive {
		updated, err := l.update(ctx, existing, d)
		if err != nil {
			return nil, err
		}
		wm.UpsertActiveEpisode(updated)
		wm.SetRecentEpisode(normalized, updated)
		metrics.EpisodesLinkedTotal.WithLabelValues("updated").Inc()
		return &LinkResult{Episode: updated}, nil
	}

	sym, symptomCreated, err := l.ensureSymptom(ctx, wm.UserID, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}

	now := l.now()
	e := &clinical.Episode{
		ID:        uuid.New(),
		UserID:    wm.UserID,
		SymptomID: sym.ID,
		Stage:     clinical.StageMentioned,
		Status:    clinical.StatusActive,
		StartedAt: now,
	}
	merge(e, d)
	e.Timeline = []clinical.TimelineEntry{{Date: now, Severity: copyInt(d.Severity), Notes: d.Notes}}
	if err := l.store.CreateEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("creating episode for %q: %w", name, err)
	}

	wm.RememberSymptom(*sym)
	wm.UpsertActiveEpisode(e)
	wm.SetRecentEpisode(normalized, e)
	metrics.EpisodesLinkedTotal.WithLabelValues("created").Inc()
	return &LinkResult{Episode: e, Created: true, SymptomCreated: symptomCreated}, nil
}

func (l *Linker) update(ctx context.Context, existing *clinical.Episode, d Details) (*clinical.Episode, error) {
	e := existing.Clone()
	merge(e, d)
	e.Stage = e.Stage.Advance(e.DetailStage())
	e.Timeline = append(e.Timeline, clinical.TimelineEntry{Date: l.now(), Severity: copyInt(d.Severity), Notes: d.Notes})
	if err := l.store.UpdateEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("updating episode %s: %w", e.ID, err)
	}
	return e, nil
}

func (l *Linker) ensureSymptom(ctx context.Context, userID uuid.UUID, name string) (*clinical.Symptom, bool, error) {
	sym, err := l.store.GetSymptomByName(ctx, userID, name)
	if err == nil {
		return sym, false, nil
	}
	if !errors.Is(err, clinical.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up symptom %q: %w", name, err)
	}
	sym = &clinical.Symptom{ID: uuid.New(), UserID: userID, Name: name}
	if err := l.store.CreateSymptom(ctx, sym); err != nil {
		return nil, false, fmt.Errorf("creating symptom %q: %w", name, err)
	}
	return sym, true, nil
}

// Resolve marks every active episode of the named symptom as resolved, the
// most recent first. It returns nil when no active episode matches.
func (l *Linker) Resolve(ctx context.Context, name string, wm *workingmemory.ConversationContext) ([]*clinical.Episode, error) {
	recent, ok := wm.RecentEpisode(name)
	if !ok || recent.Status != clinical.StatusActive {
		return nil, nil
	}
	targets := []*clinical.Episode{recent}
	for _, e := range wm.ActiveEpisodes {
		if e.SymptomID == recent.SymptomID && e.ID != recent.ID && e.Status == clinical.StatusActive {
			targets = append(targets, e)
		}
	}

	now := l.now()
	resolved := make([]*clinical.Episode, 0, len(targets))
	for _, existing := range targets {
		e := existing.Clone()
		e.Status = clinical.StatusResolved
		e.ResolvedAt = &now
		e.Timeline = append(e.Timeline, clinical.TimelineEntry{Date: now, Notes: "resolved"})
		if err := l.store.UpdateEpisode(ctx, e); err != nil {
			return nil, fmt.Errorf("resolving episode %s: %w", e.ID, err)
		}
		wm.RemoveActiveEpisode(e.ID)
		metrics.EpisodesLinkedTotal.WithLabelValues("resolved").Inc()
		resolved = append(resolved, e)
	}
	return resolved, nil
}

// merge applies d onto e: set fields overwrite, omitted fields are kept and
// list fields are unioned.
func merge(e *clinical.Episode, d Details) {
	if d.Severity != nil {
		e.Severity = copyInt(d.Severity)
	}
	if d.Location != nil {
		loc := strings.TrimSpace(*d.Location)
		e.Location = &loc
	}
	if d.Frequency != nil {
		f := *d.Frequency
		e.Frequency = &f
	}
	e.Triggers = union(e.Triggers, d.Triggers)
	e.Relievers = union(e.Relievers, d.Relievers)
}

func union(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			key := strings.ToLower(v)
			if v == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
