// Package workflow classifies chat messages and runs the matching clinical
// workflow against a hydrated working memory.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/episodes"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/metrics"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// Result is what a workflow hands back to the conversation layer.
type Result struct {
	Intent       Intent
	ResponseText string
	changes.Outcome
	StateBag map[string]any
}

func newResult(intent Intent) *Result {
	return &Result{
		Intent:   intent,
		Outcome:  changes.Outcome{EpisodeNames: make(map[uuid.UUID]string)},
		StateBag: make(map[string]any),
	}
}

// Workflow runs one intent.
type Workflow interface {
	Run(ctx context.Context, message string, wm *workingmemory.ConversationContext, tracker *changes.Tracker) (*Result, error)
}

// Retriever is the slice of semantic retrieval the workflows use.
type Retriever interface {
	Backfill(ctx context.Context, userID uuid.UUID, batch int) (int, error)
	Search(ctx context.Context, q retrieval.SearchQuery) ([]retrieval.Match, error)
}

// History supplies the recent turns of a conversation.
type History interface {
	Turns(ctx context.Context, userID, conversationID uuid.UUID) ([]llm.Message, error)
}

// Deps are the collaborators shared by the workflows. History is optional.
type Deps struct {
	Store     clinical.Store
	Linker    *episodes.Linker
	Retriever Retriever
	Generator llm.Generator
	History   History
	Now       func() time.Time
}

// recentTurns is best-effort: a missing history only costs reply quality.
func (d Deps) recentTurns(ctx context.Context, wm *workingmemory.ConversationContext) []llm.Message {
	if d.History == nil || wm.ConversationID == nil {
		return nil
	}
	turns, err := d.History.Turns(ctx, wm.UserID, *wm.ConversationID)
	if err != nil {
		slog.Warn("workflow: loading conversation history", "error", err, "user_id", wm.UserID)
		return nil
	}
	return turns
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Dispatcher routes a message to the workflow for its intent.
type Dispatcher struct {
	workflows map[Intent]Workflow
}

// NewDispatcher wires the symptom-tracking and assessment workflows.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{workflows: map[Intent]Workflow{
		IntentSymptomTracking: NewTrackingWorkflow(deps),
		IntentAssessment:      NewAssessmentWorkflow(deps),
	}}
}

// Dispatch classifies message and runs its workflow. wm must come from the
// hydrator; anything else fails with ErrNotHydrated before any work is done.
func (d *Dispatcher) Dispatch(ctx context.Context, message string, wm *workingmemory.ConversationContext, tracker *changes.Tracker) (*Result, error) {
	if !wm.Hydrated() {
		return nil, ErrNotHydrated
	}

	intent := Classify(message)
	wf, ok := d.workflows[intent]
	if !ok {
		return nil, &ExecutionError{Intent: intent, Err: fmt.Errorf("no workflow registered")}
	}
	metrics.WorkflowsDispatchedTotal.WithLabelValues(string(intent)).Inc()

	start := time.Now()
	res, err := wf.Run(ctx, message, wm, tracker)
	if err != nil {
		metrics.WorkflowFailuresTotal.WithLabelValues(string(intent)).Inc()
		return nil, &ExecutionError{Intent: intent, Err: err}
	}
	res.Intent = intent

	slog.Debug("workflow completed",
		"intent", intent,
		"user_id", wm.UserID,
		"created", len(res.CreatedEpisodeIDs),
		"updated", len(res.UpdatedEpisodeIDs),
		"resolved", len(res.ResolvedEpisodeIDs),
		"duration", time.Since(start),
	)
	return res, nil
}
