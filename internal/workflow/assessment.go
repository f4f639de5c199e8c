package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// ConclusiveConfidence moves the conversation to PhaseRecommending.
const ConclusiveConfidence = 0.75

const noSymptomsReply = "I don't have any current symptoms recorded for you yet, so I can't put together an assessment. " +
	"Tell me what you've been experiencing, how severe it is and where you feel it, and I'll keep track of it."

// AssessmentWorkflow synthesises the active episodes into a hypothesis for
// the conversation.
type AssessmentWorkflow struct {
	deps Deps
}

func NewAssessmentWorkflow(deps Deps) *AssessmentWorkflow {
	return &AssessmentWorkflow{deps: deps}
}

type assessmentReply struct {
	Hypothesis       string            `json:"hypothesis"`
	Differentials    []string          `json:"differentials"`
	Reasoning        string            `json:"reasoning"`
	EpisodeReasoning map[string]string `json:"episode_reasoning"`
	Message          string            `json:"message"`
}

func (w *AssessmentWorkflow) Run(ctx context.Context, message string, wm *workingmemory.ConversationContext, tracker *changes.Tracker) (*Result, error) {
	res := newResult(IntentAssessment)

	if len(wm.ActiveEpisodes) == 0 {
		res.ResponseText = noSymptomsReply
		res.StateBag["assessment_skipped"] = "no active episodes"
		return res, nil
	}
	if wm.ConversationID == nil {
		return nil, errors.New("assessment requires a conversation")
	}
	tracker.Emit(ctx, changes.AssessmentGenerating(len(wm.ActiveEpisodes)))

	related, err := w.relatedHistory(ctx, message, wm)
	if err != nil {
		return nil, err
	}
	res.StateBag["related_messages"] = len(related)

	reply, err := w.reason(ctx, wm, related)
	if err != nil {
		return nil, err
	}

	a, revised := w.buildAssessment(wm, related, reply)
	if revised {
		err = w.deps.Store.UpdateAssessment(ctx, a)
	} else {
		err = w.deps.Store.CreateAssessment(ctx, a)
	}
	if err != nil {
		return nil, fmt.Errorf("saving assessment: %w", err)
	}
	res.AssessmentID = &a.ID
	res.AssessmentRevised = revised
	wm.CurrentAssessment = a

	if err := w.linkEpisodes(ctx, wm, res); err != nil {
		return nil, err
	}

	if a.Confidence >= ConclusiveConfidence {
		wm.Phase = workingmemory.PhaseRecommending
	} else {
		wm.Phase = workingmemory.PhaseAssessing
	}
	res.StateBag["confidence"] = a.Confidence
	res.StateBag["recommended_action"] = string(a.RecommendedAction)

	tracker.Emit(ctx, changes.AssessmentComplete(a))
	res.ResponseText = renderAssessment(a, reply.Message)
	return res, nil
}

// relatedHistory indexes any messages left unembedded (e.g. after a clear)
// and searches the user's other conversations.
func (w *AssessmentWorkflow) relatedHistory(ctx context.Context, message string, wm *workingmemory.ConversationContext) ([]retrieval.Match, error) {
	if w.deps.Retriever == nil {
		return nil, nil
	}
	if _, err := w.deps.Retriever.Backfill(ctx, wm.UserID, 0); err != nil {
		return nil, fmt.Errorf("backfilling embeddings: %w", err)
	}

	names := make([]string, 0, len(wm.ActiveSymptoms))
	for _, s := range wm.ActiveSymptoms {
		names = append(names, s.Name)
	}
	matches, err := w.deps.Retriever.Search(ctx, retrieval.SearchQuery{
		UserID:              wm.UserID,
		Text:                strings.Join(names, ", ") + "\n" + message,
		ExcludeConversation: wm.ConversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("searching related history: %w", err)
	}
	return matches, nil
}

func (w *AssessmentWorkflow) reason(ctx context.Context, wm *workingmemory.ConversationContext, related []retrieval.Match) (*assessmentReply, error) {
	var b strings.Builder
	b.WriteString(summarize(wm))
	b.WriteString("Related messages from earlier conversations:\n")
	if len(related) == 0 {
		b.WriteString("- none\n")
	}
	for _, m := range related {
		fmt.Fprintf(&b, "- (%s, similarity %.2f) %s\n", m.Message.CreatedAt.Format("2006-01-02"), m.Similarity, m.Message.Content)
	}

	out, err := w.deps.Generator.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: assessmentPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("generating assessment: %w", err)
	}

	var reply assessmentReply
	if err := llm.DecodeJSON(out, &reply); err != nil {
		slog.Warn("workflow: assessment reply was not json", "error", err, "user_id", wm.UserID)
		reply = assessmentReply{Reasoning: strings.TrimSpace(out)}
	}
	if strings.TrimSpace(reply.Hypothesis) == "" {
		reply.Hypothesis = "Not enough information for a specific explanation"
	}
	return &reply, nil
}

func (w *AssessmentWorkflow) buildAssessment(wm *workingmemory.ConversationContext, related []retrieval.Match, reply *assessmentReply) (*clinical.Assessment, bool) {
	links := make([]clinical.LinkedEpisode, 0, len(wm.ActiveEpisodes))
	for _, e := range wm.ActiveEpisodes {
		reasoning := reply.EpisodeReasoning[e.ID.String()]
		if reasoning == "" {
			reasoning = fmt.Sprintf("%s, %s", wm.SymptomName(e.SymptomID), e.Stage)
		}
		links = append(links, clinical.LinkedEpisode{EpisodeID: e.ID, Weight: e.EvidenceWeight(), Reasoning: reasoning})
	}
	findingIDs := make([]uuid.UUID, 0, len(wm.NegativeFindings))
	for _, f := range wm.NegativeFindings {
		findingIDs = append(findingIDs, f.ID)
	}

	a := &clinical.Assessment{ID: uuid.New(), Version: 1}
	revised := wm.CurrentAssessment != nil
	if revised {
		prev := *wm.CurrentAssessment
		a = &prev
	}
	a.UserID = wm.UserID
	a.ConversationID = *wm.ConversationID
	a.Hypothesis = strings.TrimSpace(reply.Hypothesis)
	a.Differentials = nonEmpty(reply.Differentials)
	a.Reasoning = strings.TrimSpace(reply.Reasoning)
	a.Confidence = Confidence(wm.ActiveEpisodes, len(wm.NegativeFindings), len(related))
	a.RecommendedAction = RecommendAction(wm.ActiveEpisodes)
	a.LinkedEpisodes = links
	a.NegativeFindingIDs = findingIDs
	return a, revised
}

// linkEpisodes advances every episode used as evidence to StageLinked.
func (w *AssessmentWorkflow) linkEpisodes(ctx context.Context, wm *workingmemory.ConversationContext, res *Result) error {
	for _, e := range append([]*clinical.Episode(nil), wm.ActiveEpisodes...) {
		if e.Stage == clinical.StageLinked {
			continue
		}
		linked := e.Clone()
		linked.Stage = linked.Stage.Advance(clinical.StageLinked)
		if err := w.deps.Store.UpdateEpisode(ctx, linked); err != nil {
			return fmt.Errorf("linking episode %s: %w", e.ID, err)
		}
		wm.UpsertActiveEpisode(linked)
		name := wm.SymptomName(linked.SymptomID)
		if cur, ok := wm.RecentEpisode(name); ok && cur.ID == linked.ID {
			wm.SetRecentEpisode(name, linked)
		}
		res.UpdatedEpisodeIDs = append(res.UpdatedEpisodeIDs, linked.ID)
		res.EpisodeNames[linked.ID] = name
	}
	return nil
}

// Confidence scores how well the evidence is characterised. It is the mean
// evidence weight scaled to 0.8, plus small bonuses for denied symptoms and
// corroborating history, clamped to [0,1]. Re-running an assessment over the
// same evidence yields the same score.
func Confidence(active []*clinical.Episode, negativeFindings, relatedMessages int) float64 {
	if len(active) == 0 {
		return 0
	}
	var sum float64
	for _, e := range active {
		sum += e.EvidenceWeight()
	}
	c := 0.8 * sum / float64(len(active))
	c += math.Min(0.1, 0.025*float64(negativeFindings))
	c += math.Min(0.1, 0.05*float64(relatedMessages))
	return math.Max(0, math.Min(1, c))
}

// RecommendAction escalates on the worst reported severity.
func RecommendAction(active []*clinical.Episode) clinical.RecommendedAction {
	worst := 0
	for _, e := range active {
		if e.Severity != nil && *e.Severity > worst {
			worst = *e.Severity
		}
	}
	switch {
	case worst >= 9:
		return clinical.ActionEmergency
	case worst >= 7:
		return clinical.ActionUrgentCare
	case worst >= 4 || len(active) >= SuggestAssessmentAt:
		return clinical.ActionSeeGP
	default:
		return clinical.ActionSelfCare
	}
}

var actionAdvice = map[clinical.RecommendedAction]string{
	clinical.ActionSelfCare:   "This looks manageable with self-care. Rest, stay hydrated and keep tracking how you feel.",
	clinical.ActionSeeGP:      "I'd recommend booking an appointment with your GP.",
	clinical.ActionUrgentCare: "Please get seen at an urgent care clinic today.",
	clinical.ActionEmergency:  "Please call emergency services or go to the nearest emergency department now.",
}

func renderAssessment(a *clinical.Assessment, message string) string {
	var b strings.Builder
	if m := strings.TrimSpace(message); m != "" {
		b.WriteString(m)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Most likely: %s (confidence %d%%).", a.Hypothesis, int(math.Round(a.Confidence*100)))
	if len(a.Differentials) > 0 {
		fmt.Fprintf(&b, "\nOther possibilities: %s.", strings.Join(a.Differentials, ", "))
	}
	b.WriteString("\n")
	b.WriteString(actionAdvice[a.RecommendedAction])
	b.WriteString("\nThis is not a diagnosis. If your symptoms get worse, seek medical care.")
	return b.String()
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
