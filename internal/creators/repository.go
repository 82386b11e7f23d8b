package creators

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shinypull/backend/internal/models"
)

// ErrCreatorNotFound is returned when a creator id does not exist.
var ErrCreatorNotFound = errors.New("creator not found")

// Repository reads the creator registry. Writes belong to the registry owner.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a creators repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByPlatform returns all creators tracked on a platform.
func (r *Repository) ListByPlatform(ctx context.Context, platform string) ([]models.Creator, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, platform, platform_id, display_name FROM creators WHERE platform = $1 ORDER BY platform_id`,
		platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Creator
	for rows.Next() {
		var c models.Creator
		if err := rows.Scan(&c.ID, &c.Platform, &c.PlatformID, &c.DisplayName); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// GetByID returns a creator by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	var c models.Creator
	err := r.pool.QueryRow(ctx,
		`SELECT id, platform, platform_id, display_name FROM creators WHERE id = $1`, id,
	).Scan(&c.ID, &c.Platform, &c.PlatformID, &c.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}
	return &c, nil
}
