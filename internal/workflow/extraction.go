package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/episodes"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// Mention is one symptom reference extracted from a message.
type Mention struct {
	Name      string   `json:"name"`
	Severity  *int     `json:"severity"`
	Location  *string  `json:"location"`
	Frequency *string  `json:"frequency"`
	Triggers  []string `json:"triggers"`
	Relievers []string `json:"relievers"`
	Notes     string   `json:"notes"`
	Resolved  bool     `json:"resolved"`
}

type Extraction struct {
	Symptoms []Mention `json:"symptoms"`
	Denied   []string  `json:"denied"`
}

// details converts a mention into linker input, dropping values outside
// their domain instead of failing the whole message.
func (m Mention) details() episodes.Details {
	d := episodes.Details{
		Triggers:  m.Triggers,
		Relievers: m.Relievers,
		Notes:     strings.TrimSpace(m.Notes),
	}
	if m.Severity != nil && *m.Severity >= 1 && *m.Severity <= 10 {
		v := *m.Severity
		d.Severity = &v
	}
	if m.Location != nil && strings.TrimSpace(*m.Location) != "" {
		loc := strings.TrimSpace(*m.Location)
		d.Location = &loc
	}
	if m.Frequency != nil {
		if f, ok := clinical.ParseFrequency(*m.Frequency); ok {
			d.Frequency = &f
		}
	}
	return d
}

// extract asks the generator for structured mentions. A reply that is not
// valid JSON yields an empty extraction; a failed call is an error.
func extract(ctx context.Context, gen llm.Generator, message string, wm *workingmemory.ConversationContext) (*Extraction, error) {
	var known []string
	for _, s := range wm.ActiveSymptoms {
		known = append(known, s.Name)
	}
	user := fmt.Sprintf("Known symptoms: %s\n\nPatient message:\n%s", orNone(known), message)

	reply, err := gen.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("extracting symptoms: %w", err)
	}

	var ex Extraction
	if err := llm.DecodeJSON(reply, &ex); err != nil {
		slog.Warn("workflow: discarding unparseable extraction", "error", err, "user_id", wm.UserID)
		return &Extraction{}, nil
	}

	symptoms := ex.Symptoms[:0]
	for _, m := range ex.Symptoms {
		if clinical.NormalizeName(m.Name) != "" {
			symptoms = append(symptoms, m)
		}
	}
	ex.Symptoms = symptoms
	return &ex, nil
}

// summarize renders working memory for prompts.
func summarize(wm *workingmemory.ConversationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", wm.Phase)

	b.WriteString("Active episodes:\n")
	if len(wm.ActiveEpisodes) == 0 {
		b.WriteString("- none\n")
	}
	for _, e := range wm.ActiveEpisodes {
		fmt.Fprintf(&b, "- [%s] %s (stage %s, started %s", e.ID, wm.SymptomName(e.SymptomID), e.Stage, e.StartedAt.Format("2006-01-02"))
		if e.Severity != nil {
			fmt.Fprintf(&b, ", severity %d/10", *e.Severity)
		}
		if e.Location != nil {
			fmt.Fprintf(&b, ", location %s", *e.Location)
		}
		if e.Frequency != nil {
			fmt.Fprintf(&b, ", %s", *e.Frequency)
		}
		if len(e.Triggers) > 0 {
			fmt.Fprintf(&b, ", triggers: %s", strings.Join(e.Triggers, ", "))
		}
		if len(e.Relievers) > 0 {
			fmt.Fprintf(&b, ", relieved by: %s", strings.Join(e.Relievers, ", "))
		}
		b.WriteString(")\n")
	}

	var denied []string
	for _, f := range wm.NegativeFindings {
		denied = append(denied, f.Name)
	}
	fmt.Fprintf(&b, "Denied symptoms: %s\n", orNone(denied))

	if wm.CurrentAssessment != nil {
		fmt.Fprintf(&b, "Current assessment: %s (confidence %.2f, %s)\n",
			wm.CurrentAssessment.Hypothesis, wm.CurrentAssessment.Confidence, wm.CurrentAssessment.RecommendedAction)
	}
	if len(wm.PendingQuestions) > 0 {
		b.WriteString("Pending questions:\n")
		for _, q := range wm.PendingQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
