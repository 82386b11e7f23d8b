package streams

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
)

// MemoryRepository is an in-process Repository used by tests and dry runs.
// It follows the same upsert and idempotency rules as the Postgres repository.
type MemoryRepository struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[uuid.UUID]*models.StreamSession
	samples  map[uuid.UUID][]models.Sample
	nextID   int64

	// SampleInserts counts InsertSample calls that stored a row.
	SampleInserts int
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:      time.Now,
		sessions: make(map[uuid.UUID]*models.StreamSession),
		samples:  make(map[uuid.UUID][]models.Sample),
	}
}

func (m *MemoryRepository) GetOpenByCreator(_ context.Context, creatorID uuid.UUID) (*models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open *models.StreamSession
	for _, s := range m.sessions {
		if s.CreatorID == creatorID && s.IsOpen() {
			if open == nil || s.StartedAt.After(open.StartedAt) {
				open = s
			}
		}
	}
	if open == nil {
		return nil, nil
	}
	cp := *open
	return &cp, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) Open(_ context.Context, in *models.StreamSession) (*models.StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, s := range m.sessions {
		if s.CreatorID == in.CreatorID && s.ExternalStreamID == in.ExternalStreamID {
			s.EndedAt = nil
			s.Title = in.Title
			s.Category = in.Category
			s.UpdatedAt = now
			cp := *s
			return &cp, nil
		}
	}
	s := &models.StreamSession{
		ID:               uuid.New(),
		CreatorID:        in.CreatorID,
		ExternalStreamID: in.ExternalStreamID,
		StartedAt:        in.StartedAt,
		Title:            in.Title,
		Category:         in.Category,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) RefreshMetadata(_ context.Context, sessionID uuid.UUID, title, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.IsOpen() {
		s.Title = title
		s.Category = category
	}
	return nil
}

func (m *MemoryRepository) UpdatePeakViewers(_ context.Context, sessionID uuid.UUID, peak int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && peak > s.PeakViewers {
		s.PeakViewers = peak
	}
	return nil
}

func (m *MemoryRepository) InsertSample(_ context.Context, sample *models.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.samples[sample.SessionID] {
		if existing.RecordedAt.Equal(sample.RecordedAt) {
			return nil
		}
	}
	m.nextID++
	cp := *sample
	cp.ID = m.nextID
	m.samples[sample.SessionID] = append(m.samples[sample.SessionID], cp)
	m.SampleInserts++
	return nil
}

func (m *MemoryRepository) ListSamples(_ context.Context, sessionID uuid.UUID) ([]models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]models.Sample(nil), m.samples[sessionID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	return list, nil
}

func (m *MemoryRepository) Finalize(_ context.Context, sessionID uuid.UUID, sum models.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.EndedAt == nil {
		ended := sum.EndedAt
		s.EndedAt = &ended
	}
	if sum.PeakViewers > s.PeakViewers {
		s.PeakViewers = sum.PeakViewers
	}
	s.AverageViewers = sum.AverageViewers
	s.HoursWatched = sum.HoursWatched
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) ListByCreator(_ context.Context, creatorID uuid.UUID, limit int) ([]models.StreamSession, error) {
	list := m.filter(func(s *models.StreamSession) bool { return s.CreatorID == creatorID })
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryRepository) ListEndedBetween(_ context.Context, from, to time.Time) ([]models.StreamSession, error) {
	list := m.filter(func(s *models.StreamSession) bool {
		return s.EndedAt != nil && !s.EndedAt.Before(from) && s.EndedAt.Before(to)
	})
	sortByEnded(list)
	return list, nil
}

func (m *MemoryRepository) ListFinalizedByCreator(_ context.Context, creatorID uuid.UUID) ([]models.StreamSession, error) {
	list := m.filter(func(s *models.StreamSession) bool { return s.CreatorID == creatorID && s.EndedAt != nil })
	sortByEnded(list)
	return list, nil
}

func (m *MemoryRepository) UpdateViewerMetrics(_ context.Context, sessionID uuid.UUID, peak int, average, hours float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.PeakViewers = peak
		s.AverageViewers = average
		s.HoursWatched = hours
	}
	return nil
}

// Put stores a session as-is. Used to seed tests with historical rows.
func (m *MemoryRepository) Put(s models.StreamSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.sessions[s.ID] = &s
}

// All returns a snapshot of every session ordered by started_at.
func (m *MemoryRepository) All() []models.StreamSession {
	list := m.filter(func(*models.StreamSession) bool { return true })
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

func (m *MemoryRepository) filter(keep func(*models.StreamSession) bool) []models.StreamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.StreamSession
	for _, s := range m.sessions {
		if keep(s) {
			list = append(list, *s)
		}
	}
	return list
}

func sortByEnded(list []models.StreamSession) {
	sort.Slice(list, func(i, j int) bool { return list[i].EndedAt.Before(*list[j].EndedAt) })
}
