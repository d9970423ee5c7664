package repository

import (
	"context"
	"time"

	"github.com/harbornex/harbor/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error)
}

// ChunkRepository persists chunk records. Telemetry fields are written
// only through UpsertChunk (the heartbeat channel); everything else reads.
type ChunkRepository interface {
	UpsertChunk(ctx context.Context, chunk *domain.Chunk) error
	GetChunkByID(ctx context.Context, chunkID string) (*domain.Chunk, error)
	ListChunksByUser(ctx context.Context, userID, chunkType string) ([]domain.Chunk, error)
	ListOnlineChunksByUser(ctx context.Context, userID string) ([]domain.Chunk, error)
	MarkChunksOffline(ctx context.Context, lastSeenBefore time.Time) (int, error)
}

// ProjectRepository persists project configuration and assignment state.
// All write intake goes through UpsertProjectBySubdomain; status moves
// only through the deployment transaction and SetProjectRuntime.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	FindProjectByRepoBranch(ctx context.Context, repoFullName, branch string) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error)
	UpsertProjectBySubdomain(ctx context.Context, project *domain.Project) error
	UpdateProjectGitHub(ctx context.Context, projectID, repoFullName, branch string, webhookSecret []byte) error
	SetProjectRuntime(ctx context.Context, projectID, status, tunnelURL, errorMessage string) error
	RecordLastCommit(ctx context.Context, projectID, commitSHA string) error
	AssignChunk(ctx context.Context, projectID, chunkID string) (conflictProjectID string, err error)
	DeleteProject(ctx context.Context, projectID string) error
}

// EnvVariableRepository persists encrypted project environment variables.
type EnvVariableRepository interface {
	UpsertEnvVariable(ctx context.Context, envVar *domain.EnvVariable) error
	ListEnvVariables(ctx context.Context, projectID string) ([]domain.EnvVariable, error)
	DeleteEnvVariable(ctx context.Context, projectID, key string) error
}

// DeploymentRepository stores deployment history. CreateDeployment
// serializes version assignment per project so versions stay gapless
// under concurrent creation.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	DeleteDeployment(ctx context.Context, deploymentID string) error
}
