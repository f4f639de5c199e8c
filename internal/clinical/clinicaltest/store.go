// Package clinicaltest provides an in-memory clinical.Store for tests.
package clinicaltest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/clinical"
)

// Store is a mutex-guarded in-memory clinical.Store. Setting one of the
// *Err fields makes the matching operation fail.
type Store struct {
	mu sync.Mutex

	Symptoms    map[uuid.UUID]clinical.Symptom
	Episodes    map[uuid.UUID]clinical.Episode
	Findings    map[uuid.UUID]clinical.NegativeFinding
	Assessments map[uuid.UUID]clinical.Assessment

	ListSymptomsErr     error
	ListEpisodesErr     error
	ListFindingsErr     error
	GetAssessmentErr    error
	CreateEpisodeErr    error
	UpdateEpisodeErr    error
	CreateAssessmentErr error

	Writes int
}

var _ clinical.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		Symptoms:    make(map[uuid.UUID]clinical.Symptom),
		Episodes:    make(map[uuid.UUID]clinical.Episode),
		Findings:    make(map[uuid.UUID]clinical.NegativeFinding),
		Assessments: make(map[uuid.UUID]clinical.Assessment),
	}
}

// SeedSymptom inserts a symptom directly and returns it.
func (s *Store) SeedSymptom(userID uuid.UUID, name string) clinical.Symptom {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym := clinical.Symptom{ID: uuid.New(), UserID: userID, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.Symptoms[sym.ID] = sym
	return sym
}

// SeedEpisode inserts an episode directly, filling defaults.
func (s *Store) SeedEpisode(e clinical.Episode) clinical.Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Stage == "" {
		e.Stage = clinical.StageMentioned
	}
	if e.Status == "" {
		e.Status = clinical.StatusActive
	}
	s.Episodes[e.ID] = *e.Clone()
	return e
}

func (s *Store) SeedFinding(f clinical.NegativeFinding) clinical.NegativeFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	s.Findings[f.ID] = f
	return f
}

func (s *Store) SeedAssessment(a clinical.Assessment) clinical.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.Assessments[a.ID] = a
	return a
}

// Episode returns a copy of the stored episode.
func (s *Store) Episode(id uuid.UUID) (clinical.Episode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Episodes[id]
	if !ok {
		return e, false
	}
	return *e.Clone(), true
}

func (s *Store) EpisodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Episodes)
}

func (s *Store) ListSymptoms(_ context.Context, userID uuid.UUID) ([]clinical.Symptom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListSymptomsErr != nil {
		return nil, s.ListSymptomsErr
	}
	var out []clinical.Symptom
	for _, sym := range s.Symptoms {
		if sym.UserID == userID {
			out = append(out, sym)
		}
	}
	return out, nil
}

func (s *Store) GetSymptomByName(_ context.Context, userID uuid.UUID, name string) (*clinical.Symptom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.Symptoms {
		if sym.UserID == userID && clinical.NormalizeName(sym.Name) == clinical.NormalizeName(name) {
			found := sym
			return &found, nil
		}
	}
	return nil, clinical.ErrNotFound
}

func (s *Store) CreateSymptom(_ context.Context, sym *clinical.Symptom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Symptoms {
		if existing.UserID == sym.UserID && clinical.NormalizeName(existing.Name) == clinical.NormalizeName(sym.Name) {
			*sym = existing
			return nil
		}
	}
	if sym.ID == uuid.Nil {
		sym.ID = uuid.New()
	}
	sym.CreatedAt = time.Now()
	sym.UpdatedAt = sym.CreatedAt
	s.Symptoms[sym.ID] = *sym
	s.Writes++
	return nil
}

func (s *Store) ListActiveEpisodes(_ context.Context, userID uuid.UUID, since time.Time) ([]clinical.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListEpisodesErr != nil {
		return nil, s.ListEpisodesErr
	}
	var out []clinical.Episode
	for _, e := range s.Episodes {
		if e.UserID == userID && e.Status == clinical.StatusActive && !e.StartedAt.Before(since) {
			out = append(out, *e.Clone())
		}
	}
	return out, nil
}

func (s *Store) CreateEpisode(_ context.Context, e *clinical.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateEpisodeErr != nil {
		return s.CreateEpisodeErr
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := s.Symptoms[e.SymptomID]; !ok {
		return clinical.ErrNotFound
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	s.Episodes[e.ID] = *e.Clone()
	s.Writes++
	return nil
}

func (s *Store) UpdateEpisode(_ context.Context, e *clinical.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateEpisodeErr != nil {
		return s.UpdateEpisodeErr
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := s.Episodes[e.ID]; !ok {
		return clinical.ErrNotFound
	}
	e.UpdatedAt = time.Now()
	s.Episodes[e.ID] = *e.Clone()
	s.Writes++
	return nil
}

func (s *Store) ListNegativeFindings(_ context.Context, userID uuid.UUID, since time.Time) ([]clinical.NegativeFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListFindingsErr != nil {
		return nil, s.ListFindingsErr
	}
	var out []clinical.NegativeFinding
	for _, f := range s.Findings {
		if f.UserID == userID && !f.RecordedAt.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) CreateNegativeFinding(_ context.Context, f *clinical.NegativeFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now()
	}
	s.Findings[f.ID] = *f
	s.Writes++
	return nil
}

func (s *Store) GetAssessmentByConversation(_ context.Context, userID, conversationID uuid.UUID) (*clinical.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetAssessmentErr != nil {
		return nil, s.GetAssessmentErr
	}
	for _, a := range s.Assessments {
		if a.UserID == userID && a.ConversationID == conversationID {
			found := a
			return &found, nil
		}
	}
	return nil, clinical.ErrNotFound
}

func (s *Store) CreateAssessment(_ context.Context, a *clinical.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateAssessmentErr != nil {
		return s.CreateAssessmentErr
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.Assessments[a.ID] = *a
	s.Writes++
	return nil
}

func (s *Store) UpdateAssessment(_ context.Context, a *clinical.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := a.Validate(); err != nil {
		return err
	}
	if _, ok := s.Assessments[a.ID]; !ok {
		return clinical.ErrNotFound
	}
	a.Version++
	a.UpdatedAt = time.Now()
	s.Assessments[a.ID] = *a
	s.Writes++
	return nil
}
