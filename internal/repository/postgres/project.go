package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

const projectColumns = `id, user_id, name, subdomain, status, framework,
	github_repo_name, github_branch, github_webhook_secret, github_last_commit,
	chunk_id, tunnel_url, last_error, created_at, updated_at`

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return r.getProject(ctx, query, projectID)
}

// FindProjectByRepoBranch resolves the webhook target for a push event.
func (r *Repository) FindProjectByRepoBranch(ctx context.Context, repoFullName, branch string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE github_repo_name = $1 AND github_branch = $2`
	return r.getProject(ctx, query, repoFullName, branch)
}

func (r *Repository) getProject(ctx context.Context, query string, args ...any) (*domain.Project, error) {
	project, err := scanProject(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// ListProjectsByUser returns the user's projects, newest first.
func (r *Repository) ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// UpsertProjectBySubdomain creates the project or, when the same user
// already holds the subdomain, updates it in place. The conditional
// DO UPDATE leaves a row owned by a different user untouched, which
// surfaces as ErrConflict. A single statement keeps concurrent creates
// for the same subdomain race-free: exactly one inserts, the other updates.
func (r *Repository) UpsertProjectBySubdomain(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, user_id, name, subdomain, status, framework,
			github_repo_name, github_branch, github_webhook_secret, github_last_commit,
			chunk_id, tunnel_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, '', $9, '', NOW(), NOW())
		ON CONFLICT (subdomain) DO UPDATE SET
			name = EXCLUDED.name,
			framework = EXCLUDED.framework,
			github_repo_name = EXCLUDED.github_repo_name,
			github_branch = EXCLUDED.github_branch,
			chunk_id = COALESCE(EXCLUDED.chunk_id, projects.chunk_id),
			updated_at = NOW()
		WHERE projects.user_id = EXCLUDED.user_id
		RETURNING ` + projectColumns
	row := r.pool.QueryRow(ctx, query,
		project.ID,
		project.UserID,
		project.Name,
		project.Subdomain,
		project.Status,
		project.Framework,
		project.GitHubRepoName,
		project.GitHubBranch,
		project.ChunkID,
	)
	stored, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrConflict
		}
		return mapPgError(err)
	}
	*project = *stored
	return nil
}

// UpdateProjectGitHub stores the repository linkage and webhook secret.
func (r *Repository) UpdateProjectGitHub(ctx context.Context, projectID, repoFullName, branch string, webhookSecret []byte) error {
	const query = `UPDATE projects SET
			github_repo_name = $2,
			github_branch = $3,
			github_webhook_secret = COALESCE($4, github_webhook_secret),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, repoFullName, branch, webhookSecret)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetProjectRuntime applies an agent-reported runtime update. Empty
// fields leave the stored values unchanged.
func (r *Repository) SetProjectRuntime(ctx context.Context, projectID, status, tunnelURL, errorMessage string) error {
	const query = `UPDATE projects SET
			status = COALESCE($2, status),
			tunnel_url = COALESCE($3, tunnel_url),
			last_error = COALESCE($4, last_error),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, emptyToNil(status), emptyToNil(tunnelURL), emptyToNil(errorMessage))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordLastCommit stores the most recently pushed commit SHA.
func (r *Repository) RecordLastCommit(ctx context.Context, projectID, commitSHA string) error {
	const query = `UPDATE projects SET github_last_commit = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, commitSHA)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AssignChunk sets the project's chunk reference iff no other running
// project currently holds the chunk. The guard condition lives inside
// the UPDATE, so two concurrent assignments cannot both succeed. On a
// lost race the conflicting running project's id is returned alongside
// ErrConflict.
func (r *Repository) AssignChunk(ctx context.Context, projectID, chunkID string) (string, error) {
	const query = `UPDATE projects SET chunk_id = $2, updated_at = NOW()
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM projects held
			WHERE held.chunk_id = $2 AND held.status = 'running' AND held.id <> $1
		)`
	tag, err := r.pool.Exec(ctx, query, projectID, chunkID)
	if err != nil {
		return "", mapPgError(err)
	}
	if tag.RowsAffected() > 0 {
		return "", nil
	}

	const holderQuery = `SELECT id FROM projects
		WHERE chunk_id = $2 AND status = 'running' AND id <> $1 LIMIT 1`
	var holderID string
	err = r.pool.QueryRow(ctx, holderQuery, projectID, chunkID).Scan(&holderID)
	switch {
	case err == nil:
		return holderID, repository.ErrConflict
	case errors.Is(err, pgx.ErrNoRows):
		// No holder, so the target project itself is missing.
		return "", repository.ErrNotFound
	default:
		return "", err
	}
}

// DeleteProject removes the project and everything scoped to it.
// Deployments and env variables go first so no orphaned rows survive.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM deployments WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete deployments: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM env_variables WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete env variables: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p       domain.Project
		chunkID *string
		secret  []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Subdomain,
		&p.Status,
		&p.Framework,
		&p.GitHubRepoName,
		&p.GitHubBranch,
		&secret,
		&p.GitHubLastCommit,
		&chunkID,
		&p.TunnelURL,
		&p.LastError,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ChunkID = chunkID
	if len(secret) > 0 {
		p.GitHubWebhookSecret = append([]byte(nil), secret...)
	}
	return &p, nil
}
