//go:build integration

package clinical_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/conversation"
	"github.com/healthtrack/symptomtracker/internal/database/databasetest"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	pool := databasetest.NewPool(t)
	store := clinical.NewPostgresStore(pool)
	convRepo := conversation.NewPostgresRepository(pool)
	ctx := context.Background()
	userID := uuid.New()

	// Symptoms are unique per user, case-insensitively.
	sym := &clinical.Symptom{UserID: userID, Name: "Headache"}
	require.NoError(t, store.CreateSymptom(ctx, sym))
	got, err := store.GetSymptomByName(ctx, userID, "  headache ")
	require.NoError(t, err)
	assert.Equal(t, sym.ID, got.ID)
	_, err = store.GetSymptomByName(ctx, uuid.New(), "headache")
	assert.ErrorIs(t, err, clinical.ErrNotFound)

	// Episodes: window and status filters.
	sev := 6
	now := time.Now().UTC()
	recent := &clinical.Episode{
		UserID: userID, SymptomID: sym.ID, Stage: clinical.StageMentioned, Status: clinical.StatusActive,
		StartedAt: now.Add(-2 * 24 * time.Hour), Severity: &sev, Triggers: []string{"screens"},
		Timeline: []clinical.TimelineEntry{{Date: now, Severity: &sev}},
	}
	old := &clinical.Episode{
		UserID: userID, SymptomID: sym.ID, Stage: clinical.StageMentioned, Status: clinical.StatusActive,
		StartedAt: now.Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, store.CreateEpisode(ctx, recent))
	require.NoError(t, store.CreateEpisode(ctx, old))

	active, err := store.ListActiveEpisodes(ctx, userID, now.Add(-14*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, recent.ID, active[0].ID)
	assert.Equal(t, []string{"screens"}, active[0].Triggers)
	require.Len(t, active[0].Timeline, 1)

	recent.Stage = clinical.StageExplored
	recent.Status = clinical.StatusResolved
	resolvedAt := now
	recent.ResolvedAt = &resolvedAt
	require.NoError(t, store.UpdateEpisode(ctx, recent))
	active, err = store.ListActiveEpisodes(ctx, userID, now.Add(-14*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active)

	bad := -1
	err = store.CreateEpisode(ctx, &clinical.Episode{UserID: userID, SymptomID: sym.ID, Stage: clinical.StageMentioned, Status: clinical.StatusActive, Severity: &bad})
	var verr *clinical.ValidationError
	assert.True(t, errors.As(err, &verr))

	// Negative findings.
	require.NoError(t, store.CreateNegativeFinding(ctx, &clinical.NegativeFinding{UserID: userID, Name: "fever", RecordedAt: now}))
	findings, err := store.ListNegativeFindings(ctx, userID, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "fever", findings[0].Name)

	// Assessments are one per conversation and versioned on update.
	conv := &clinical.Conversation{UserID: userID, Title: "headache"}
	require.NoError(t, convRepo.CreateConversation(ctx, conv))

	_, err = store.GetAssessmentByConversation(ctx, userID, conv.ID)
	assert.ErrorIs(t, err, clinical.ErrNotFound)

	a := &clinical.Assessment{
		UserID: userID, ConversationID: conv.ID, Hypothesis: "tension headache", Confidence: 0.6,
		Differentials: []string{"migraine"}, RecommendedAction: clinical.ActionSelfCare,
		LinkedEpisodes: []clinical.LinkedEpisode{{EpisodeID: recent.ID, Weight: 0.5}},
	}
	require.NoError(t, store.CreateAssessment(ctx, a))
	assert.Equal(t, 1, a.Version)

	a.Confidence = 0.8
	a.RecommendedAction = clinical.ActionSeeGP
	require.NoError(t, store.UpdateAssessment(ctx, a))
	assert.Equal(t, 2, a.Version)

	stored, err := store.GetAssessmentByConversation(ctx, userID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.InDelta(t, 0.8, stored.Confidence, 1e-9)
	assert.Equal(t, []string{"migraine"}, stored.Differentials)
	require.Len(t, stored.LinkedEpisodes, 1)

	_, err = store.GetAssessmentByConversation(ctx, uuid.New(), conv.ID)
	assert.ErrorIs(t, err, clinical.ErrNotFound)
}
