package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/clinical/clinicaltest"
	"github.com/healthtrack/symptomtracker/internal/episodes"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const trackingReply = "Thanks, I've noted that."

// scriptedGenerator answers by prompt type: extraction replies are consumed
// in order, conversational replies are fixed.
type scriptedGenerator struct {
	mu          sync.Mutex
	extractions []string
	assessment  string
	err         error
	calls       int
}

func (g *scriptedGenerator) Generate(_ context.Context, msgs []llm.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	switch msgs[0].Content {
	case extractionPrompt:
		if len(g.extractions) == 0 {
			return `{"symptoms":[],"denied":[]}`, nil
		}
		next := g.extractions[0]
		g.extractions = g.extractions[1:]
		return next, nil
	case assessmentPrompt:
		return g.assessment, nil
	default:
		return trackingReply, nil
	}
}

type fakeRetriever struct {
	matches     []retrieval.Match
	backfillErr error
	backfills   int
	queries     []retrieval.SearchQuery
}

func (r *fakeRetriever) Backfill(context.Context, uuid.UUID, int) (int, error) {
	r.backfills++
	return 0, r.backfillErr
}

func (r *fakeRetriever) Search(_ context.Context, q retrieval.SearchQuery) ([]retrieval.Match, error) {
	r.queries = append(r.queries, q)
	return r.matches, nil
}

type harness struct {
	store     *clinicaltest.Store
	gen       *scriptedGenerator
	retriever *fakeRetriever
	wm        *workingmemory.ConversationContext
	convID    uuid.UUID
	d         *Dispatcher
}

func newHarness() *harness {
	store := clinicaltest.New()
	gen := &scriptedGenerator{}
	ret := &fakeRetriever{}
	convID := uuid.New()
	clock := func() time.Time { return now }
	return &harness{
		store:     store,
		gen:       gen,
		retriever: ret,
		convID:    convID,
		wm:        workingmemory.New(uuid.New(), &convID, now),
		d: NewDispatcher(Deps{
			Store:     store,
			Linker:    episodes.NewLinker(store).WithClock(clock),
			Retriever: ret,
			Generator: gen,
			Now:       clock,
		}),
	}
}

func (h *harness) send(t *testing.T, message string, extraction ...string) (*Result, *changes.Tracker) {
	t.Helper()
	h.gen.extractions = append(h.gen.extractions, extraction...)
	tracker := changes.NewTracker(h.wm.UserID, &h.convID, nil)
	res, err := h.d.Dispatch(context.Background(), message, h.wm, tracker)
	require.NoError(t, err)
	return res, tracker
}

func linkWeight(a clinical.Assessment, wm *workingmemory.ConversationContext, name string) float64 {
	for _, l := range a.LinkedEpisodes {
		for _, e := range wm.ActiveEpisodes {
			if e.ID == l.EpisodeID && wm.SymptomName(e.SymptomID) == name {
				return l.Weight
			}
		}
	}
	return -1
}

func kinds(updates []changes.StatusUpdate) []changes.Kind {
	out := make([]changes.Kind, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.Kind)
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    Intent
	}{
		{"please generate an assessment for my symptoms", IntentAssessment},
		{"my head still hurts", IntentSymptomTracking},
		{"Can you EVALUATE this?", IntentAssessment},
		{"what's your diagnosis", IntentAssessment},
		{"I've had a cough since Tuesday", IntentSymptomTracking},
		{"", IntentSymptomTracking},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message))
		})
	}
}

func TestDispatch_RequiresHydratedContext(t *testing.T) {
	h := newHarness()
	tracker := changes.NewTracker(uuid.New(), nil, nil)

	_, err := h.d.Dispatch(context.Background(), "my head hurts", nil, tracker)
	assert.ErrorIs(t, err, ErrNotHydrated)

	_, err = h.d.Dispatch(context.Background(), "my head hurts", &workingmemory.ConversationContext{}, tracker)
	assert.ErrorIs(t, err, ErrNotHydrated)
	assert.Zero(t, h.gen.calls)
}

func TestTracking_CreateThenUpdate(t *testing.T) {
	h := newHarness()

	res, tracker := h.send(t, "I have a headache, about a 5. No fever.",
		`{"symptoms":[{"name":"Headache","severity":5}],"denied":["fever"]}`)

	assert.Equal(t, IntentSymptomTracking, res.Intent)
	assert.Equal(t, trackingReply, res.ResponseText)
	require.Len(t, res.CreatedEpisodeIDs, 1)
	assert.Empty(t, res.UpdatedEpisodeIDs)
	assert.True(t, h.wm.IsDenied("Fever"))
	assert.Len(t, h.store.Findings, 1)
	assert.Len(t, h.wm.PendingQuestions, 2)
	assert.Equal(t, []changes.Kind{changes.KindSymptomAdded, changes.KindGatheringDetails}, kinds(tracker.CollectStatusUpdates()))

	created := res.CreatedEpisodeIDs[0]
	ep, _ := h.store.Episode(created)
	assert.Equal(t, clinical.StageMentioned, ep.Stage)

	res, _ = h.send(t, "my head still hurts, worse now, 7",
		`{"symptoms":[{"name":"headache","severity":7,"location":"forehead"}],"denied":["fever"]}`)

	assert.Empty(t, res.CreatedEpisodeIDs)
	assert.Equal(t, []uuid.UUID{created}, res.UpdatedEpisodeIDs)
	assert.Len(t, h.store.Findings, 1, "fever is already denied inside the window")
	assert.Equal(t, 1, h.store.EpisodeCount())

	ep, _ = h.store.Episode(created)
	assert.Equal(t, 7, *ep.Severity)
	assert.Equal(t, clinical.StageExplored, ep.Stage)
	assert.Len(t, ep.Timeline, 2)
	assert.Equal(t, []string{"Is the Headache constant, or does it come and go?"}, h.wm.PendingQuestions)

	got := changes.DeriveChanges(res.Outcome, h.wm)
	require.Len(t, got, 1)
	assert.Equal(t, changes.ActionUpdated, got[0].Action)
	assert.Equal(t, "Headache", got[0].Name)
}

func TestTracking_QuestionsSurviveMessagesWithoutMentions(t *testing.T) {
	h := newHarness()
	h.send(t, "I've got a rash", `{"symptoms":[{"name":"rash","severity":3,"location":"arm"}]}`)
	want := []string{"Is the rash constant, or does it come and go?"}
	require.Equal(t, want, h.wm.PendingQuestions)

	res, _ := h.send(t, "thanks, that's helpful")
	assert.Equal(t, want, h.wm.PendingQuestions)
	assert.Equal(t, want, res.StateBag["pending_questions"])

	h.send(t, "it comes and goes", `{"symptoms":[{"name":"rash","frequency":"intermittent"}]}`)
	assert.Empty(t, h.wm.PendingQuestions)
}

func TestTracking_Resolve(t *testing.T) {
	h := newHarness()
	res, _ := h.send(t, "I have a sore throat", `{"symptoms":[{"name":"sore throat"}]}`)
	id := res.CreatedEpisodeIDs[0]

	res, tracker := h.send(t, "my sore throat is gone", `{"symptoms":[{"name":"Sore Throat","resolved":true}]}`)
	assert.Equal(t, []uuid.UUID{id}, res.ResolvedEpisodeIDs)
	assert.Empty(t, h.wm.ActiveEpisodes)
	assert.Contains(t, kinds(tracker.CollectStatusUpdates()), changes.KindSymptomResolved)

	got := changes.DeriveChanges(res.Outcome, h.wm)
	require.Len(t, got, 1)
	assert.Equal(t, changes.ActionRemoved, got[0].Action)
	assert.Equal(t, "Sore Throat", got[0].Name)
}

func TestTracking_DeniedMentionIsNotTracked(t *testing.T) {
	h := newHarness()
	res, _ := h.send(t, "no fever at all", `{"symptoms":[{"name":"fever"}],"denied":["Fever"]}`)
	assert.Empty(t, res.CreatedEpisodeIDs)
	assert.Zero(t, h.store.EpisodeCount())
	assert.Empty(t, h.wm.PendingQuestions)
}

func TestTracking_UnparseableExtraction(t *testing.T) {
	h := newHarness()
	res, tracker := h.send(t, "hello there", "I'm not sure what you mean.")
	assert.Equal(t, trackingReply, res.ResponseText)
	assert.Empty(t, res.CreatedEpisodeIDs)
	assert.Zero(t, h.store.Writes)
	assert.Empty(t, tracker.CollectStatusUpdates())
}

func TestTracking_OutOfRangeValuesAreDropped(t *testing.T) {
	h := newHarness()
	res, _ := h.send(t, "headache 15/10, all the time",
		`{"symptoms":[{"name":"headache","severity":15,"frequency":"Constant"}]}`)
	ep, _ := h.store.Episode(res.CreatedEpisodeIDs[0])
	assert.Nil(t, ep.Severity)
	require.NotNil(t, ep.Frequency)
	assert.Equal(t, clinical.FrequencyConstant, *ep.Frequency)
}

func TestTracking_SuggestsAssessment(t *testing.T) {
	h := newHarness()
	res, tracker := h.send(t, "headache, nausea and dizziness",
		`{"symptoms":[{"name":"headache"},{"name":"nausea"},{"name":"dizziness"}]}`)
	assert.Len(t, res.CreatedEpisodeIDs, 3)
	assert.Equal(t, true, res.StateBag["assessment_suggested"])
	assert.Contains(t, kinds(tracker.CollectStatusUpdates()), changes.KindAssessmentSuggested)
}

func TestTracking_GeneratorFailure(t *testing.T) {
	h := newHarness()
	boom := errors.New("upstream timeout")
	h.gen.err = boom

	_, err := h.d.Dispatch(context.Background(), "my head hurts", h.wm, changes.NewTracker(h.wm.UserID, nil, nil))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, IntentSymptomTracking, execErr.Intent)
	assert.ErrorIs(t, err, boom)
}

func TestAssessment_WithoutEpisodes(t *testing.T) {
	h := newHarness()
	res, _ := h.send(t, "please generate an assessment for my symptoms")
	assert.Equal(t, IntentAssessment, res.Intent)
	assert.Nil(t, res.AssessmentID)
	assert.Empty(t, h.store.Assessments)
	assert.Zero(t, h.retriever.backfills)
	assert.True(t, strings.Contains(res.ResponseText, "symptoms"))
}

func TestAssessment_CreateThenRevise(t *testing.T) {
	h := newHarness()
	h.send(t, "headache and nausea",
		`{"symptoms":[{"name":"headache","severity":5},{"name":"nausea"}]}`)
	h.retriever.matches = []retrieval.Match{{
		Message:    clinical.Message{ID: uuid.New(), UserID: h.wm.UserID, ConversationID: uuid.New(), Content: "had a migraine last month"},
		Similarity: 0.82,
	}}
	h.gen.assessment = "```json\n" + `{"hypothesis":"Migraine","differentials":["Tension headache",""],"reasoning":"recurring headache with nausea","message":"Here is what I think."}` + "\n```"

	res, tracker := h.send(t, "please generate an assessment for my symptoms")
	require.NotNil(t, res.AssessmentID)
	assert.False(t, res.AssessmentRevised)
	assert.Len(t, res.UpdatedEpisodeIDs, 2)

	assert.Equal(t, 1, h.retriever.backfills)
	require.Len(t, h.retriever.queries, 1)
	assert.Equal(t, h.convID, *h.retriever.queries[0].ExcludeConversation)

	a := h.store.Assessments[*res.AssessmentID]
	assert.Equal(t, "Migraine", a.Hypothesis)
	assert.Equal(t, []string{"Tension headache"}, a.Differentials)
	// headache is explored (2/3), nausea only mentioned (1/3), one related message.
	assert.InDelta(t, 0.45, a.Confidence, 1e-9)
	assert.InDelta(t, 2.0/3, linkWeight(a, h.wm, "headache"), 1e-9)
	assert.InDelta(t, 1.0/3, linkWeight(a, h.wm, "nausea"), 1e-9)
	assert.Equal(t, clinical.ActionSeeGP, a.RecommendedAction)
	assert.Len(t, a.LinkedEpisodes, 2)
	assert.Equal(t, workingmemory.PhaseAssessing, h.wm.Phase)
	assert.Contains(t, res.ResponseText, "Migraine")
	assert.Equal(t, []changes.Kind{changes.KindAssessmentGenerating, changes.KindAssessmentComplete}, kinds(tracker.CollectStatusUpdates()))

	for _, e := range h.wm.ActiveEpisodes {
		stored, _ := h.store.Episode(e.ID)
		assert.Equal(t, clinical.StageLinked, stored.Stage)
	}

	res, _ = h.send(t, "can you re-evaluate?")
	assert.True(t, res.AssessmentRevised)
	assert.Equal(t, a.ID, *res.AssessmentID)
	assert.Empty(t, res.UpdatedEpisodeIDs)
	assert.Len(t, h.store.Assessments, 1)
	assert.Equal(t, 2, h.store.Assessments[a.ID].Version)
	revised := h.store.Assessments[a.ID]
	assert.InDelta(t, a.Confidence, revised.Confidence, 1e-9)
	assert.InDelta(t, 2.0/3, linkWeight(revised, h.wm, "headache"), 1e-9)
	assert.Equal(t, workingmemory.PhaseAssessing, h.wm.Phase)

	got := changes.DeriveChanges(res.Outcome, h.wm)
	require.Len(t, got, 1)
	assert.Equal(t, changes.ActionUpdated, got[0].Action)
	require.NotNil(t, got[0].Confidence)
}

func TestAssessment_NewDetailRaisesConfidence(t *testing.T) {
	h := newHarness()
	h.send(t, "headache", `{"symptoms":[{"name":"headache","severity":6}]}`)
	h.gen.assessment = `{"hypothesis":"Tension headache"}`

	res, _ := h.send(t, "assess me")
	first := h.store.Assessments[*res.AssessmentID].Confidence
	assert.Equal(t, workingmemory.PhaseAssessing, h.wm.Phase)

	h.send(t, "it's constant, behind my eyes",
		`{"symptoms":[{"name":"headache","location":"behind the eyes","frequency":"constant"}]}`)
	res, _ = h.send(t, "assess me again")
	second := h.store.Assessments[*res.AssessmentID].Confidence

	assert.Greater(t, second, first)
	assert.InDelta(t, 0.8, second, 1e-9)
	assert.Equal(t, workingmemory.PhaseRecommending, h.wm.Phase)
}

func TestAssessment_UnparseableReplyStillPersists(t *testing.T) {
	h := newHarness()
	h.send(t, "cough", `{"symptoms":[{"name":"cough","severity":2}]}`)
	h.gen.assessment = "It is probably a cold."

	res, _ := h.send(t, "assess me")
	require.NotNil(t, res.AssessmentID)
	a := h.store.Assessments[*res.AssessmentID]
	assert.NotEmpty(t, a.Hypothesis)
	assert.Equal(t, "It is probably a cold.", a.Reasoning)
	assert.Equal(t, clinical.ActionSelfCare, a.RecommendedAction)
}

func TestAssessment_DimensionMismatchIsFatal(t *testing.T) {
	h := newHarness()
	h.send(t, "cough", `{"symptoms":[{"name":"cough"}]}`)
	h.retriever.backfillErr = &retrieval.DimensionMismatchError{Expected: 1536, Actual: 768}

	_, err := h.d.Dispatch(context.Background(), "assessment please", h.wm, changes.NewTracker(h.wm.UserID, nil, nil))
	var dm *retrieval.DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, IntentAssessment, execErr.Intent)
	assert.Empty(t, h.store.Assessments)
}

func TestConfidenceBounds(t *testing.T) {
	ep := func(s clinical.Stage) *clinical.Episode { return &clinical.Episode{Stage: s} }

	assert.Zero(t, Confidence(nil, 10, 10))
	assert.InDelta(t, 0.8/3, Confidence([]*clinical.Episode{ep(clinical.StageMentioned)}, 0, 0), 1e-9)
	assert.InDelta(t, 0.8/3, Confidence([]*clinical.Episode{ep(clinical.StageLinked)}, 0, 0), 1e-9)

	sev, loc, freq := 5, "chest", clinical.FrequencyConstant
	full := &clinical.Episode{Stage: clinical.StageLinked, Severity: &sev, Location: &loc, Frequency: &freq}
	assert.InDelta(t, 0.8, Confidence([]*clinical.Episode{full}, 0, 0), 1e-9)
	assert.InDelta(t, 1.0, Confidence([]*clinical.Episode{full}, 100, 100), 1e-9)
}

func TestRecommendAction(t *testing.T) {
	sev := func(v int) *clinical.Episode { return &clinical.Episode{Severity: &v} }

	assert.Equal(t, clinical.ActionSelfCare, RecommendAction([]*clinical.Episode{sev(2)}))
	assert.Equal(t, clinical.ActionSeeGP, RecommendAction([]*clinical.Episode{sev(4)}))
	assert.Equal(t, clinical.ActionSeeGP, RecommendAction([]*clinical.Episode{{}, {}, {}}))
	assert.Equal(t, clinical.ActionUrgentCare, RecommendAction([]*clinical.Episode{sev(2), sev(8)}))
	assert.Equal(t, clinical.ActionEmergency, RecommendAction([]*clinical.Episode{sev(10)}))
}
