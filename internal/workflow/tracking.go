package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// SuggestAssessmentAt is the number of active episodes at which the tracking
// workflow offers an assessment.
const SuggestAssessmentAt = 3

// TrackingWorkflow records symptom mentions, denials and resolutions and
// asks for missing details.
type TrackingWorkflow struct {
	deps Deps
}

func NewTrackingWorkflow(deps Deps) *TrackingWorkflow {
	return &TrackingWorkflow{deps: deps}
}

func (w *TrackingWorkflow) Run(ctx context.Context, message string, wm *workingmemory.ConversationContext, tracker *changes.Tracker) (*Result, error) {
	res := newResult(IntentSymptomTracking)

	ex, err := extract(ctx, w.deps.Generator, message, wm)
	if err != nil {
		return nil, err
	}

	deniedNow, err := w.recordDenials(ctx, ex.Denied, wm)
	if err != nil {
		return nil, err
	}
	res.StateBag["denied"] = deniedNow

	var questions []string
	tracked := false
	for _, m := range ex.Symptoms {
		if slices.Contains(deniedNow, clinical.NormalizeName(m.Name)) {
			continue
		}

		tracked = true
		if m.Resolved {
			resolved, err := w.deps.Linker.Resolve(ctx, m.Name, wm)
			if err != nil {
				return nil, err
			}
			for _, e := range resolved {
				res.ResolvedEpisodeIDs = append(res.ResolvedEpisodeIDs, e.ID)
				res.EpisodeNames[e.ID] = m.Name
				tracker.Emit(ctx, changes.SymptomResolved(m.Name, e))
			}
			continue
		}

		link, err := w.deps.Linker.LinkOrCreate(ctx, m.Name, m.details(), wm)
		if err != nil {
			return nil, err
		}
		e := link.Episode
		name := wm.SymptomName(e.SymptomID)
		if name == "" {
			name = m.Name
		}
		res.EpisodeNames[e.ID] = name

		switch {
		case link.Created:
			res.CreatedEpisodeIDs = append(res.CreatedEpisodeIDs, e.ID)
			tracker.Emit(ctx, changes.SymptomAdded(name, e))
		case !slices.Contains(res.CreatedEpisodeIDs, e.ID) && !slices.Contains(res.UpdatedEpisodeIDs, e.ID):
			res.UpdatedEpisodeIDs = append(res.UpdatedEpisodeIDs, e.ID)
			tracker.Emit(ctx, changes.SymptomUpdated(name, e))
		default:
			tracker.Emit(ctx, changes.SymptomUpdated(name, e))
		}

		if missing := missingDetails(e); len(missing) > 0 && !wm.IsDenied(name) {
			tracker.Emit(ctx, changes.GatheringDetails(name, missing))
			questions = append(questions, questionsFor(name, missing)...)
		}
	}
	// A message that mentions no tracked symptom leaves earlier questions open.
	if tracked {
		wm.PendingQuestions = questions
	}
	res.StateBag["pending_questions"] = wm.PendingQuestions

	if len(wm.ActiveEpisodes) >= SuggestAssessmentAt && wm.CurrentAssessment == nil {
		tracker.Emit(ctx, changes.AssessmentSuggested(len(wm.ActiveEpisodes)))
		res.StateBag["assessment_suggested"] = true
	}

	prompt := []llm.Message{
		{Role: llm.RoleSystem, Content: trackingReplyPrompt},
		{Role: llm.RoleSystem, Content: "Context:\n" + summarize(wm)},
	}
	prompt = append(prompt, w.deps.recentTurns(ctx, wm)...)
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: message})

	reply, err := w.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}
	res.ResponseText = reply
	return res, nil
}

// recordDenials stores a negative finding for each newly denied name and
// returns the normalized names denied in this message.
func (w *TrackingWorkflow) recordDenials(ctx context.Context, denied []string, wm *workingmemory.ConversationContext) ([]string, error) {
	names := make([]string, 0, len(denied))
	for _, raw := range denied {
		name := clinical.NormalizeName(raw)
		if name == "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
		if wm.IsDenied(name) {
			continue
		}

		f := &clinical.NegativeFinding{
			ID:             uuid.New(),
			UserID:         wm.UserID,
			ConversationID: wm.ConversationID,
			Name:           name,
			RecordedAt:     w.deps.now(),
		}
		if err := w.deps.Store.CreateNegativeFinding(ctx, f); err != nil {
			return nil, fmt.Errorf("recording negative finding %q: %w", name, err)
		}
		wm.AddNegativeFinding(*f)
	}
	return names, nil
}

func missingDetails(e *clinical.Episode) []string {
	var missing []string
	if e.Severity == nil {
		missing = append(missing, "severity")
	}
	if e.Location == nil {
		missing = append(missing, "location")
	}
	if e.Frequency == nil {
		missing = append(missing, "frequency")
	}
	return missing
}

func questionsFor(name string, missing []string) []string {
	out := make([]string, 0, len(missing))
	for _, field := range missing {
		switch field {
		case "severity":
			out = append(out, fmt.Sprintf("On a scale of 1 to 10, how bad is the %s?", name))
		case "location":
			out = append(out, fmt.Sprintf("Where exactly do you feel the %s?", name))
		case "frequency":
			out = append(out, fmt.Sprintf("Is the %s constant, or does it come and go?", name))
		}
	}
	return out
}
