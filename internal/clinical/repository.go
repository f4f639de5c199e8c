package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store defines clinical entity persistence. Every write is its own atomic
// statement; there is no transaction spanning several writes.
type Store interface {
	ListSymptoms(ctx context.Context, userID uuid.UUID) ([]Symptom, error)
	GetSymptomByName(ctx context.Context, userID uuid.UUID, name string) (*Symptom, error)
	CreateSymptom(ctx context.Context, s *Symptom) error

	ListActiveEpisodes(ctx context.Context, userID uuid.UUID, since time.Time) ([]Episode, error)
	CreateEpisode(ctx context.Context, e *Episode) error
	UpdateEpisode(ctx context.Context, e *Episode) error

	ListNegativeFindings(ctx context.Context, userID uuid.UUID, since time.Time) ([]NegativeFinding, error)
	CreateNegativeFinding(ctx context.Context, f *NegativeFinding) error

	GetAssessmentByConversation(ctx context.Context, userID, conversationID uuid.UUID) (*Assessment, error)
	CreateAssessment(ctx context.Context, a *Assessment) error
	UpdateAssessment(ctx context.Context, a *Assessment) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new clinical store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) ListSymptoms(ctx context.Context, userID uuid.UUID) ([]Symptom, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM symptoms
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing symptoms: %w", err)
	}
	defer rows.Close()

	var symptoms []Symptom
	for rows.Next() {
		var s Symptom
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning symptom: %w", err)
		}
		symptoms = append(symptoms, s)
	}
	return symptoms, rows.Err()
}

func (r *PostgresStore) GetSymptomByName(ctx context.Context, userID uuid.UUID, name string) (*Symptom, error) {
	var s Symptom
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM symptoms
		 WHERE user_id = $1 AND lower(name) = $2`,
		userID, NormalizeName(name),
	).Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting symptom: %w", err)
	}
	return &s, nil
}

// CreateSymptom is idempotent on (user, lower(name)): a concurrent insert of
// the same name resolves to the existing row.
func (r *PostgresStore) CreateSymptom(ctx context.Context, s *Symptom) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO symptoms (id, user_id, name, description)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, lower(name)) DO UPDATE SET updated_at = now()
		 RETURNING id, created_at, updated_at`,
		s.ID, s.UserID, s.Name, s.Description,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting symptom: %w", err)
	}
	return nil
}

const episodeColumns = `id, user_id, symptom_id, stage, status, started_at, resolved_at,
	severity, location, frequency, triggers, relievers, timeline, created_at, updated_at`

func (r *PostgresStore) ListActiveEpisodes(ctx context.Context, userID uuid.UUID, since time.Time) ([]Episode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+episodeColumns+`
		 FROM episodes
		 WHERE user_id = $1 AND status = 'active' AND started_at >= $2
		 ORDER BY started_at DESC, id DESC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *e)
	}
	return episodes, rows.Err()
}

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	var stage, status string
	var frequency *string
	var triggers, relievers, timeline []byte
	var severity *int16
	err := row.Scan(&e.ID, &e.UserID, &e.SymptomID, &stage, &status, &e.StartedAt, &e.ResolvedAt,
		&severity, &e.Location, &frequency, &triggers, &relievers, &timeline, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning episode: %w", err)
	}
	e.Stage = Stage(stage)
	e.Status = EpisodeStatus(status)
	if severity != nil {
		v := int(*severity)
		e.Severity = &v
	}
	if frequency != nil {
		f := Frequency(*frequency)
		e.Frequency = &f
	}
	if err := json.Unmarshal(triggers, &e.Triggers); err != nil {
		return nil, fmt.Errorf("decoding episode triggers: %w", err)
	}
	if err := json.Unmarshal(relievers, &e.Relievers); err != nil {
		return nil, fmt.Errorf("decoding episode relievers: %w", err)
	}
	if err := json.Unmarshal(timeline, &e.Timeline); err != nil {
		return nil, fmt.Errorf("decoding episode timeline: %w", err)
	}
	return &e, nil
}

type episodeArgs struct {
	frequency                     *string
	triggers, relievers, timeline json.RawMessage
}

func encodeEpisode(e *Episode) (*episodeArgs, error) {
	var a episodeArgs
	if e.Frequency != nil {
		f := string(*e.Frequency)
		a.frequency = &f
	}
	var err error
	if a.triggers, err = marshalList(e.Triggers); err != nil {
		return nil, fmt.Errorf("encoding episode triggers: %w", err)
	}
	if a.relievers, err = marshalList(e.Relievers); err != nil {
		return nil, fmt.Errorf("encoding episode relievers: %w", err)
	}
	if a.timeline, err = marshalList(e.Timeline); err != nil {
		return nil, fmt.Errorf("encoding episode timeline: %w", err)
	}
	return &a, nil
}

func marshalList[T any](v []T) (json.RawMessage, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

func (r *PostgresStore) CreateEpisode(ctx context.Context, e *Episode) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	args, err := encodeEpisode(e)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO episodes (id, user_id, symptom_id, stage, status, started_at, resolved_at,
		                       severity, location, frequency, triggers, relievers, timeline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		e.ID, e.UserID, e.SymptomID, string(e.Stage), string(e.Status), e.StartedAt, e.ResolvedAt,
		e.Severity, e.Location, args.frequency, args.triggers, args.relievers, args.timeline,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting episode: %w", err)
	}
	return nil
}

func (r *PostgresStore) UpdateEpisode(ctx context.Context, e *Episode) error {
	if err := e.Validate(); err != nil {
		return err
	}
	args, err := encodeEpisode(e)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`UPDATE episodes
		 SET stage = $3, status = $4, resolved_at = $5, severity = $6, location = $7,
		     frequency = $8, triggers = $9, relievers = $10, timeline = $11, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING updated_at`,
		e.ID, e.UserID, string(e.Stage), string(e.Status), e.ResolvedAt, e.Severity, e.Location,
		args.frequency, args.triggers, args.relievers, args.timeline,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("updating episode: %w", err)
	}
	return nil
}

func (r *PostgresStore) ListNegativeFindings(ctx context.Context, userID uuid.UUID, since time.Time) ([]NegativeFinding, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, conversation_id, name, recorded_at
		 FROM negative_findings
		 WHERE user_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at DESC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing negative findings: %w", err)
	}
	defer rows.Close()

	var findings []NegativeFinding
	for rows.Next() {
		var f NegativeFinding
		if err := rows.Scan(&f.ID, &f.UserID, &f.ConversationID, &f.Name, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning negative finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (r *PostgresStore) CreateNegativeFinding(ctx context.Context, f *NegativeFinding) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO negative_findings (id, user_id, conversation_id, name, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.UserID, f.ConversationID, f.Name, f.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting negative finding: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetAssessmentByConversation(ctx context.Context, userID, conversationID uuid.UUID) (*Assessment, error) {
	var a Assessment
	var action string
	var differentials, linked, negativeIDs []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, conversation_id, hypothesis, confidence, differentials, reasoning,
		        recommended_action, linked_episodes, negative_finding_ids, version, created_at, updated_at
		 FROM assessments
		 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&a.ID, &a.UserID, &a.ConversationID, &a.Hypothesis, &a.Confidence, &differentials, &a.Reasoning,
		&action, &linked, &negativeIDs, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting assessment: %w", err)
	}
	a.RecommendedAction = RecommendedAction(action)
	if err := json.Unmarshal(differentials, &a.Differentials); err != nil {
		return nil, fmt.Errorf("decoding assessment differentials: %w", err)
	}
	if err := json.Unmarshal(linked, &a.LinkedEpisodes); err != nil {
		return nil, fmt.Errorf("decoding linked episodes: %w", err)
	}
	if err := json.Unmarshal(negativeIDs, &a.NegativeFindingIDs); err != nil {
		return nil, fmt.Errorf("decoding negative finding ids: %w", err)
	}
	return &a, nil
}

func (r *PostgresStore) CreateAssessment(ctx context.Context, a *Assessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	differentials, linked, negativeIDs, err := encodeAssessment(a)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO assessments (id, user_id, conversation_id, hypothesis, confidence, differentials,
		                          reasoning, recommended_action, linked_episodes, negative_finding_ids, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		a.ID, a.UserID, a.ConversationID, a.Hypothesis, a.Confidence, differentials,
		a.Reasoning, string(a.RecommendedAction), linked, negativeIDs, a.Version,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting assessment: %w", err)
	}
	return nil
}

// UpdateAssessment revises an assessment in place and bumps its version.
func (r *PostgresStore) UpdateAssessment(ctx context.Context, a *Assessment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	differentials, linked, negativeIDs, err := encodeAssessment(a)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`UPDATE assessments
		 SET hypothesis = $3, confidence = $4, differentials = $5, reasoning = $6,
		     recommended_action = $7, linked_episodes = $8, negative_finding_ids = $9,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING version, updated_at`,
		a.ID, a.UserID, a.Hypothesis, a.Confidence, differentials, a.Reasoning,
		string(a.RecommendedAction), linked, negativeIDs,
	).Scan(&a.Version, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("updating assessment: %w", err)
	}
	return nil
}

func encodeAssessment(a *Assessment) (differentials, linked, negativeIDs json.RawMessage, err error) {
	if differentials, err = marshalList(a.Differentials); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding differentials: %w", err)
	}
	if linked, err = marshalList(a.LinkedEpisodes); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding linked episodes: %w", err)
	}
	if negativeIDs, err = marshalList(a.NegativeFindingIDs); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding negative finding ids: %w", err)
	}
	return differentials, linked, negativeIDs, nil
}
