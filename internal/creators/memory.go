package creators

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shinypull/backend/internal/models"
)

// MemoryRepository is a fixed creator registry for tests and dry runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Creator
}

// NewMemoryRepository creates a registry holding the given creators.
func NewMemoryRepository(list ...models.Creator) *MemoryRepository {
	m := &MemoryRepository{byID: make(map[uuid.UUID]models.Creator)}
	for _, c := range list {
		m.Add(c)
	}
	return m
}

// Add registers a creator, assigning an id when it has none.
func (m *MemoryRepository) Add(c models.Creator) models.Creator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.byID[c.ID] = c
	return c
}

func (m *MemoryRepository) ListByPlatform(_ context.Context, platform string) ([]models.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []models.Creator
	for _, c := range m.byID {
		if c.Platform == platform {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PlatformID < list[j].PlatformID })
	return list, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrCreatorNotFound
	}
	return &c, nil
}
