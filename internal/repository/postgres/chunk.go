package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

const chunkColumns = `id, user_id, name, status, type, dc, dm, ds, db,
	usage_dc, usage_dm, usage_ds, usage_db, last_seen_at, created_at`

// UpsertChunk records a heartbeat: status, usage telemetry and last-seen.
func (r *Repository) UpsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	const query = `INSERT INTO chunks (id, user_id, name, status, type, dc, dm, ds, db,
			usage_dc, usage_dm, usage_ds, usage_db, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			dc = EXCLUDED.dc,
			dm = EXCLUDED.dm,
			ds = EXCLUDED.ds,
			db = EXCLUDED.db,
			usage_dc = EXCLUDED.usage_dc,
			usage_dm = EXCLUDED.usage_dm,
			usage_ds = EXCLUDED.usage_ds,
			usage_db = EXCLUDED.usage_db,
			last_seen_at = EXCLUDED.last_seen_at`
	_, err := r.pool.Exec(ctx, query,
		chunk.ID,
		chunk.UserID,
		chunk.Name,
		chunk.Status,
		chunk.Type,
		chunk.DC,
		chunk.DM,
		chunk.DS,
		chunk.DB,
		chunk.UsageDC,
		chunk.UsageDM,
		chunk.UsageDS,
		chunk.UsageDB,
		chunk.LastSeenAt,
	)
	return mapPgError(err)
}

// GetChunkByID fetches a chunk record.
func (r *Repository) GetChunkByID(ctx context.Context, chunkID string) (*domain.Chunk, error) {
	const query = `SELECT ` + chunkColumns + ` FROM chunks WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, chunkID)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return chunk, nil
}

// ListChunksByUser returns chunks owned by the user, optionally filtered by type.
func (r *Repository) ListChunksByUser(ctx context.Context, userID, chunkType string) ([]domain.Chunk, error) {
	const query = `SELECT ` + chunkColumns + ` FROM chunks
		WHERE user_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID, chunkType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListOnlineChunksByUser returns online owned chunks, oldest first so the
// default pick is stable.
func (r *Repository) ListOnlineChunksByUser(ctx context.Context, userID string) ([]domain.Chunk, error) {
	const query = `SELECT ` + chunkColumns + ` FROM chunks
		WHERE user_id = $1 AND status = 'online' AND type = 'chunk'
		ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// MarkChunksOffline flips online chunks whose last heartbeat predates the cutoff.
func (r *Repository) MarkChunksOffline(ctx context.Context, lastSeenBefore time.Time) (int, error) {
	const query = `UPDATE chunks SET status = 'offline'
		WHERE status = 'online' AND last_seen_at < $1`
	tag, err := r.pool.Exec(ctx, query, lastSeenBefore)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Status,
		&c.Type,
		&c.DC,
		&c.DM,
		&c.DS,
		&c.DB,
		&c.UsageDC,
		&c.UsageDM,
		&c.UsageDS,
		&c.UsageDB,
		&c.LastSeenAt,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectChunks(rows pgx.Rows) ([]domain.Chunk, error) {
	chunks := make([]domain.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}
