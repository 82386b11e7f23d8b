package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shinypull/backend/internal/models"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("stream session not found")

const sessionColumns = `id, creator_id, external_stream_id, started_at, ended_at, title, category,
	peak_viewers, average_viewers, hours_watched, created_at, updated_at`

// Repository handles stream_sessions and stream_samples persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.CreatorID, &s.ExternalStreamID, &s.StartedAt, &s.EndedAt, &s.Title, &s.Category,
		&s.PeakViewers, &s.AverageViewers, &s.HoursWatched, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]models.StreamSession, error) {
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// GetOpenByCreator returns the open (no ended_at) session for a creator, or nil.
func (r *Repository) GetOpenByCreator(ctx context.Context, creatorID uuid.UUID) (*models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE creator_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, creatorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetByID returns a session by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// Open upserts a session by (creator_id, external_stream_id). A closed session with the same
// external id is reopened: the platform is reporting the same broadcast again.
func (r *Repository) Open(ctx context.Context, s *models.StreamSession) (*models.StreamSession, error) {
	q := `INSERT INTO stream_sessions (id, creator_id, external_stream_id, started_at, title, category, peak_viewers)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 0)
		ON CONFLICT (creator_id, external_stream_id) DO UPDATE
		SET ended_at = NULL, title = EXCLUDED.title, category = EXCLUDED.category, updated_at = NOW()
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, s.CreatorID, s.ExternalStreamID, s.StartedAt, s.Title, s.Category))
}

// RefreshMetadata updates title and category of an open session.
func (r *Repository) RefreshMetadata(ctx context.Context, sessionID uuid.UUID, title, category string) error {
	const q = `UPDATE stream_sessions SET title = $1, category = $2, updated_at = NOW()
		WHERE id = $3 AND ended_at IS NULL AND (title <> $1 OR category <> $2)`
	_, err := r.pool.Exec(ctx, q, title, category, sessionID)
	return err
}

// UpdatePeakViewers raises peak_viewers; it never lowers it.
func (r *Repository) UpdatePeakViewers(ctx context.Context, sessionID uuid.UUID, peak int) error {
	const q = `UPDATE stream_sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`
	_, err := r.pool.Exec(ctx, q, peak, sessionID)
	return err
}

// InsertSample appends a sample. A sample already recorded at the same instant is ignored,
// so a re-run of the same cycle does not duplicate it.
func (r *Repository) InsertSample(ctx context.Context, sample *models.Sample) error {
	const q = `INSERT INTO stream_samples (session_id, viewer_count, recorded_at, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, recorded_at) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, sample.SessionID, sample.ViewerCount, sample.RecordedAt, sample.Category)
	return err
}

// ListSamples returns a session's samples ordered by recorded_at.
func (r *Repository) ListSamples(ctx context.Context, sessionID uuid.UUID) ([]models.Sample, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, viewer_count, recorded_at, category
		 FROM stream_samples WHERE session_id = $1 ORDER BY recorded_at ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Sample
	for rows.Next() {
		var s models.Sample
		if err := rows.Scan(&s.ID, &s.SessionID, &s.ViewerCount, &s.RecordedAt, &s.Category); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Finalize writes the summary in one statement. ended_at keeps its first value on a re-run;
// the metrics are overwritten, never accumulated.
func (r *Repository) Finalize(ctx context.Context, sessionID uuid.UUID, sum models.SessionSummary) error {
	const q = `UPDATE stream_sessions
		SET ended_at = COALESCE(ended_at, $1), peak_viewers = GREATEST(peak_viewers, $2),
			average_viewers = $3, hours_watched = $4, updated_at = NOW()
		WHERE id = $5`
	tag, err := r.pool.Exec(ctx, q, sum.EndedAt, sum.PeakViewers, sum.AverageViewers, sum.HoursWatched, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListByCreator returns a creator's most recent sessions.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit int) ([]models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE creator_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, creatorID, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListEndedBetween returns finalized sessions with from <= ended_at < to, ordered by ended_at.
func (r *Repository) ListEndedBetween(ctx context.Context, from, to time.Time) ([]models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE ended_at >= $1 AND ended_at < $2 ORDER BY ended_at ASC`
	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListFinalizedByCreator returns every finalized session of a creator ordered by ended_at.
func (r *Repository) ListFinalizedByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE creator_id = $1 AND ended_at IS NOT NULL ORDER BY ended_at ASC`
	rows, err := r.pool.Query(ctx, q, creatorID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// UpdateViewerMetrics overwrites peak, average viewers and hours watched of a finalized session.
func (r *Repository) UpdateViewerMetrics(ctx context.Context, sessionID uuid.UUID, peak int, average, hours float64) error {
	const q = `UPDATE stream_sessions SET peak_viewers = $1, average_viewers = $2, hours_watched = $3, updated_at = NOW()
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, peak, average, hours, sessionID)
	return err
}
