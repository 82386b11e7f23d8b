package stats

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shinypull/backend/internal/models"
)

// ErrStatNotFound is returned when no rollup row exists for a creator and day.
var ErrStatNotFound = errors.New("daily stat not found")

const statColumns = `creator_id, day, hours_watched_day, hours_watched_7d, hours_watched_30d,
	peak_viewers, average_viewers, sessions_count, updated_at`

// Repository handles creator_daily_stats persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a daily stats repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the row for (creator_id, day), replacing any previous values.
func (r *Repository) Upsert(ctx context.Context, s *models.DailyStat) error {
	const q = `INSERT INTO creator_daily_stats (creator_id, day, hours_watched_day, hours_watched_7d, hours_watched_30d,
			peak_viewers, average_viewers, sessions_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (creator_id, day) DO UPDATE
		SET hours_watched_day = EXCLUDED.hours_watched_day, hours_watched_7d = EXCLUDED.hours_watched_7d,
			hours_watched_30d = EXCLUDED.hours_watched_30d, peak_viewers = EXCLUDED.peak_viewers,
			average_viewers = EXCLUDED.average_viewers, sessions_count = EXCLUDED.sessions_count,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, s.CreatorID, s.Day, s.HoursWatchedDay, s.HoursWatched7d, s.HoursWatched30d,
		s.PeakViewers, s.AverageViewers, s.SessionsCount)
	return err
}

// Get returns the row for one creator and day.
func (r *Repository) Get(ctx context.Context, creatorID uuid.UUID, day time.Time) (*models.DailyStat, error) {
	q := `SELECT ` + statColumns + ` FROM creator_daily_stats WHERE creator_id = $1 AND day = $2`
	var s models.DailyStat
	err := r.pool.QueryRow(ctx, q, creatorID, day).Scan(&s.CreatorID, &s.Day, &s.HoursWatchedDay, &s.HoursWatched7d,
		&s.HoursWatched30d, &s.PeakViewers, &s.AverageViewers, &s.SessionsCount, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListByCreator returns a creator's rows with from <= day <= to, ordered by day.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, from, to time.Time) ([]models.DailyStat, error) {
	q := `SELECT ` + statColumns + ` FROM creator_daily_stats
		WHERE creator_id = $1 AND day >= $2 AND day <= $3 ORDER BY day ASC`
	rows, err := r.pool.Query(ctx, q, creatorID, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListBetween returns every row with from <= day <= to, ordered by creator then day.
func (r *Repository) ListBetween(ctx context.Context, from, to time.Time) ([]models.DailyStat, error) {
	q := `SELECT ` + statColumns + ` FROM creator_daily_stats
		WHERE day >= $1 AND day <= $2 ORDER BY creator_id, day ASC`
	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// UpdateViewerMetrics overwrites peak and average viewers of one row.
func (r *Repository) UpdateViewerMetrics(ctx context.Context, creatorID uuid.UUID, day time.Time, peak int, average float64) error {
	const q = `UPDATE creator_daily_stats SET peak_viewers = $1, average_viewers = $2, updated_at = NOW()
		WHERE creator_id = $3 AND day = $4`
	_, err := r.pool.Exec(ctx, q, peak, average, creatorID, day)
	return err
}

func collect(rows pgx.Rows) ([]models.DailyStat, error) {
	defer rows.Close()
	var list []models.DailyStat
	for rows.Next() {
		var s models.DailyStat
		if err := rows.Scan(&s.CreatorID, &s.Day, &s.HoursWatchedDay, &s.HoursWatched7d, &s.HoursWatched30d,
			&s.PeakViewers, &s.AverageViewers, &s.SessionsCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
