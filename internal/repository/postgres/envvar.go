package postgres

import (
	"context"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

// UpsertEnvVariable stores an encrypted environment variable, replacing
// any existing value for the same (project, key).
func (r *Repository) UpsertEnvVariable(ctx context.Context, envVar *domain.EnvVariable) error {
	const query = `INSERT INTO env_variables (id, project_id, key, value, target, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			target = EXCLUDED.target`
	_, err := r.pool.Exec(ctx, query,
		envVar.ID,
		envVar.ProjectID,
		envVar.Key,
		envVar.Value,
		envVar.Target,
		envVar.CreatedAt,
	)
	return mapPgError(err)
}

// ListEnvVariables returns environment variables for a project.
func (r *Repository) ListEnvVariables(ctx context.Context, projectID string) ([]domain.EnvVariable, error) {
	const query = `SELECT id, project_id, key, value, target, created_at
		FROM env_variables WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make([]domain.EnvVariable, 0)
	for rows.Next() {
		var v domain.EnvVariable
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Key, &v.Value, &v.Target, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// DeleteEnvVariable removes a single key from a project.
func (r *Repository) DeleteEnvVariable(ctx context.Context, projectID, key string) error {
	const query = `DELETE FROM env_variables WHERE project_id = $1 AND key = $2`
	tag, err := r.pool.Exec(ctx, query, projectID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
