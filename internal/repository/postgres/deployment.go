package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

const deploymentColumns = `id, project_id, version, status, branch, build_logs,
	duration_seconds, url, error_message, created_at, completed_at, updated_at`

// CreateDeployment assigns the next version and inserts the row inside a
// transaction. The project row is locked FOR UPDATE first, so concurrent
// creations for the same project serialize and versions stay gapless and
// unique. The same transaction flips the project to deploying.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var projectID string
	err = tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, deployment.ProjectID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM deployments WHERE project_id = $1`,
		deployment.ProjectID,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("next version: %w", err)
	}
	deployment.Version = version

	const insert = `INSERT INTO deployments (id, project_id, version, status, branch, build_logs,
			duration_seconds, url, error_message, created_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $10)`
	_, err = tx.Exec(ctx, insert,
		deployment.ID,
		deployment.ProjectID,
		deployment.Version,
		deployment.Status,
		deployment.Branch,
		deployment.BuildLogs,
		intPtrToNil(deployment.DurationSeconds),
		deployment.URL,
		deployment.ErrorMessage,
		deployment.CreatedAt,
		timePtrToNil(deployment.CompletedAt),
	)
	if err != nil {
		return mapPgError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`,
		deployment.ProjectID, domain.ProjectStatusDeploying,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	deployment, err := scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return deployment, nil
}

// UpdateDeployment applies a status advance. Log lines append to the
// stored build log; other empty fields leave stored values unchanged.
func (r *Repository) UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error {
	const query = `UPDATE deployments SET
			status = COALESCE($2, status),
			build_logs = build_logs || $3,
			duration_seconds = COALESCE($4, duration_seconds),
			url = COALESCE($5, url),
			error_message = COALESCE($6, error_message),
			completed_at = COALESCE($7, completed_at),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID,
		emptyToNil(update.Status),
		update.LogsAppend,
		intPtrToNil(update.DurationSeconds),
		emptyToNil(update.URL),
		emptyToNil(update.ErrorMessage),
		timePtrToNil(update.CompletedAt),
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByProject returns deployments, newest first. A limit
// of zero or less returns every row. Versions only ever increase, so
// version order and creation order agree.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY version DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limitOrNil(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}
	return deployments, rows.Err()
}

// DeleteDeployment removes a deployment record. Surviving versions are
// never renumbered.
func (r *Repository) DeleteDeployment(ctx context.Context, deploymentID string) error {
	const query = `DELETE FROM deployments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, deploymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d         domain.Deployment
		duration  *int
		completed *time.Time
	)
	if err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.Version,
		&d.Status,
		&d.Branch,
		&d.BuildLogs,
		&duration,
		&d.URL,
		&d.ErrorMessage,
		&d.CreatedAt,
		&completed,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.DurationSeconds = duration
	d.CompletedAt = completed
	return &d, nil
}
