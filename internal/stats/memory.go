package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
)

type statKey struct {
	creator uuid.UUID
	day     string
}

func keyOf(creatorID uuid.UUID, day time.Time) statKey {
	return statKey{creator: creatorID, day: day.Format(time.DateOnly)}
}

// MemoryRepository keeps daily stats in process. Used by tests and dry runs.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[statKey]models.DailyStat
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[statKey]models.DailyStat)}
}

func (m *MemoryRepository) Upsert(_ context.Context, s *models.DailyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *s
	row.UpdatedAt = time.Now()
	m.rows[keyOf(s.CreatorID, s.Day)] = row
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, creatorID uuid.UUID, day time.Time) (*models.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[keyOf(creatorID, day)]
	if !ok {
		return nil, ErrStatNotFound
	}
	return &row, nil
}

func (m *MemoryRepository) ListByCreator(_ context.Context, creatorID uuid.UUID, from, to time.Time) ([]models.DailyStat, error) {
	return m.list(func(s models.DailyStat) bool {
		return s.CreatorID == creatorID && inRange(s.Day, from, to)
	}), nil
}

func (m *MemoryRepository) ListBetween(_ context.Context, from, to time.Time) ([]models.DailyStat, error) {
	return m.list(func(s models.DailyStat) bool { return inRange(s.Day, from, to) }), nil
}

func (m *MemoryRepository) UpdateViewerMetrics(_ context.Context, creatorID uuid.UUID, day time.Time, peak int, average float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyOf(creatorID, day)
	if row, ok := m.rows[k]; ok {
		row.PeakViewers = peak
		row.AverageViewers = average
		m.rows[k] = row
	}
	return nil
}

// Len returns the number of stored rows.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemoryRepository) list(keep func(models.DailyStat) bool) []models.DailyStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.DailyStat
	for _, s := range m.rows {
		if keep(s) {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatorID != list[j].CreatorID {
			return list[i].CreatorID.String() < list[j].CreatorID.String()
		}
		return list[i].Day.Before(list[j].Day)
	})
	return list
}

func inRange(day, from, to time.Time) bool {
	d := day.Format(time.DateOnly)
	return d >= from.Format(time.DateOnly) && d <= to.Format(time.DateOnly)
}
