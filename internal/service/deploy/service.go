package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/internal/service/assign"
	"github.com/harbornex/harbor/internal/ws"
	"github.com/harbornex/harbor/pkg/config"
)

// ErrInvalidTransition marks a deployment status change the lifecycle
// does not allow. The stored status is left unchanged.
var ErrInvalidTransition = errors.New("invalid deployment status transition")

// transitions holds the allowed deployment lifecycle edges. Success and
// failed are terminal.
var transitions = map[string][]string{
	domain.DeploymentStatusPending:  {domain.DeploymentStatusBuilding, domain.DeploymentStatusFailed},
	domain.DeploymentStatusBuilding: {domain.DeploymentStatusSuccess, domain.DeploymentStatusFailed},
}

func transitionAllowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TriggerInput starts a deployment for an existing project.
type TriggerInput struct {
	ProjectID string
	UserID    string
	Branch    string
	ChunkID   string
}

// BySubdomainInput starts a deployment addressed by subdomain, creating
// the project on first use. This is the capability-key entry point.
type BySubdomainInput struct {
	UserID    string
	Subdomain string
	Name      string
	Framework string
	Branch    string
	ChunkID   string
}

// AdvanceInput moves a deployment along the lifecycle.
type AdvanceInput struct {
	DeploymentID    string
	Status          string
	LogsAppend      string
	DurationSeconds *int
	URL             string
	ErrorMessage    string
}

// Service owns the deployment lifecycle.
type Service struct {
	deployments repository.DeploymentRepository
	projects    repository.ProjectRepository
	chunks      repository.ChunkRepository
	guard       *assign.Guard
	runner      *Runner
	hub         *ws.Hub
	logger      *slog.Logger
	cfg         config.APIConfig
}

// New returns a deploy service. The runner must be the one whose
// Shutdown the caller drives on exit.
func New(
	deployments repository.DeploymentRepository,
	projects repository.ProjectRepository,
	chunks repository.ChunkRepository,
	guard *assign.Guard,
	runner *Runner,
	hub *ws.Hub,
	logger *slog.Logger,
	cfg config.APIConfig,
) Service {
	s := Service{
		deployments: deployments,
		projects:    projects,
		chunks:      chunks,
		guard:       guard,
		runner:      runner,
		hub:         hub,
		logger:      logger,
		cfg:         cfg,
	}
	runner.bind(s.Advance)
	return s
}

// Trigger creates the next deployment for a project and starts the
// build. Versions are assigned gaplessly per project. When a chunk is
// named the project is placed on it first, so a contested chunk rejects
// the whole trigger before any deployment row exists.
func (s Service) Trigger(ctx context.Context, input TriggerInput) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if input.UserID != "" && project.UserID != input.UserID {
		return nil, repository.ErrNotFound
	}
	if input.ChunkID != "" {
		if err := s.guard.Assign(ctx, project.ID, input.ChunkID, input.UserID); err != nil {
			return nil, err
		}
	}
	branch := strings.TrimSpace(input.Branch)
	if branch == "" {
		branch = project.GitHubBranch
	}
	if branch == "" {
		branch = "main"
	}
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Status:    domain.DeploymentStatusPending,
		Branch:    branch,
		BuildLogs: fmt.Sprintf("Deployment queued for branch %s\n", branch),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment triggered",
		"deployment_id", deployment.ID, "project_id", project.ID, "version", deployment.Version)
	s.publish(deployment)
	s.runner.Start(deployment.ID, deployment.ProjectID)
	return deployment, nil
}

// TriggerBySubdomain deploys by subdomain, provisioning the project if
// it does not exist yet. The chunk is the explicit one when given,
// otherwise the user's first online chunk.
func (s Service) TriggerBySubdomain(ctx context.Context, input BySubdomainInput) (*domain.Deployment, error) {
	chunkID := strings.TrimSpace(input.ChunkID)
	if chunkID == "" {
		// Placement is best effort here: deploy on the first online
		// chunk when one exists, otherwise leave the project unplaced.
		online, err := s.chunks.ListOnlineChunksByUser(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		if len(online) > 0 {
			chunkID = online[0].ID
		}
	} else {
		chunk, err := s.chunks.GetChunkByID(ctx, chunkID)
		if err != nil {
			return nil, err
		}
		if chunk.UserID != input.UserID {
			return nil, repository.ErrNotFound
		}
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = input.Subdomain
	}
	project := &domain.Project{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		Name:         name,
		Subdomain:    strings.ToLower(strings.TrimSpace(input.Subdomain)),
		Status:       domain.ProjectStatusStopped,
		Framework:    strings.TrimSpace(input.Framework),
		GitHubBranch: "main",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.projects.UpsertProjectBySubdomain(ctx, project); err != nil {
		return nil, err
	}
	return s.Trigger(ctx, TriggerInput{
		ProjectID: project.ID,
		UserID:    input.UserID,
		Branch:    input.Branch,
		ChunkID:   chunkID,
	})
}

// Advance applies a lifecycle transition. Success records the serving
// URL and flips the project to running; failed records the error and
// stops the project. Log fragments append, never replace.
func (s Service) Advance(ctx context.Context, input AdvanceInput) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, input.DeploymentID)
	if err != nil {
		return nil, err
	}
	next := strings.TrimSpace(input.Status)
	if next != "" && next != deployment.Status {
		if !transitionAllowed(deployment.Status, next) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, deployment.Status, next)
		}
	}
	update := domain.DeploymentUpdate{
		DeploymentID:    deployment.ID,
		Status:          next,
		LogsAppend:      input.LogsAppend,
		DurationSeconds: input.DurationSeconds,
		ErrorMessage:    input.ErrorMessage,
	}
	switch next {
	case domain.DeploymentStatusSuccess:
		url := strings.TrimSpace(input.URL)
		if url == "" {
			project, err := s.projects.GetProjectByID(ctx, deployment.ProjectID)
			if err != nil {
				return nil, err
			}
			url = "https://" + project.Subdomain + s.cfg.DeployDomainSuffix
		}
		update.URL = url
		now := time.Now().UTC()
		update.CompletedAt = &now
	case domain.DeploymentStatusFailed:
		now := time.Now().UTC()
		update.CompletedAt = &now
		if update.ErrorMessage == "" {
			update.ErrorMessage = "build failed"
		}
	}
	if err := s.deployments.UpdateDeployment(ctx, update); err != nil {
		return nil, err
	}
	switch next {
	case domain.DeploymentStatusSuccess:
		if err := s.projects.SetProjectRuntime(ctx, deployment.ProjectID, domain.ProjectStatusRunning, update.URL, ""); err != nil {
			return nil, err
		}
	case domain.DeploymentStatusFailed:
		if err := s.projects.SetProjectRuntime(ctx, deployment.ProjectID, domain.ProjectStatusStopped, "", update.ErrorMessage); err != nil {
			return nil, err
		}
	}
	updated, err := s.deployments.GetDeploymentByID(ctx, deployment.ID)
	if err != nil {
		return nil, err
	}
	s.publish(updated)
	return updated, nil
}

// Get returns a deployment scoped to the project owner.
func (s Service) Get(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		project, err := s.projects.GetProjectByID(ctx, deployment.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.UserID != userID {
			return nil, repository.ErrNotFound
		}
	}
	return deployment, nil
}

// ListRecent returns a project's deployments, newest version first.
func (s Service) ListRecent(ctx context.Context, projectID, userID string, limit int) ([]domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if userID != "" && project.UserID != userID {
		return nil, repository.ErrNotFound
	}
	if limit <= 0 {
		limit = 20
	}
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// Delete removes a deployment record and cancels its build if one is
// still running.
func (s Service) Delete(ctx context.Context, deploymentID, userID string) error {
	if _, err := s.Get(ctx, deploymentID, userID); err != nil {
		return err
	}
	s.runner.Cancel(deploymentID)
	return s.deployments.DeleteDeployment(ctx, deploymentID)
}

// CancelForProject stops any in-flight builds for a project. Called
// before project deletion so no runner keeps writing to deleted rows.
func (s Service) CancelForProject(ctx context.Context, projectID string) error {
	recent, err := s.deployments.ListDeploymentsByProject(ctx, projectID, 0)
	if err != nil {
		return err
	}
	for _, deployment := range recent {
		s.runner.Cancel(deployment.ID)
	}
	return nil
}

type buildEvent struct {
	DeploymentID string `json:"deploymentId"`
	ProjectID    string `json:"projectId"`
	Version      int    `json:"version"`
	Status       string `json:"status"`
	Logs         string `json:"logs,omitempty"`
	URL          string `json:"url,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s Service) publish(deployment *domain.Deployment) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(buildEvent{
		DeploymentID: deployment.ID,
		ProjectID:    deployment.ProjectID,
		Version:      deployment.Version,
		Status:       deployment.Status,
		Logs:         deployment.BuildLogs,
		URL:          deployment.URL,
		Error:        deployment.ErrorMessage,
	})
	if err != nil {
		s.logger.Error("build event encode failed", "error", err)
		return
	}
	s.hub.Broadcast(deployment.ProjectID, payload)
}
