package project

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/pkg/config"
	"github.com/harbornex/harbor/pkg/crypto"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	UserID         string
	Name           string
	Subdomain      string
	Framework      string
	GitHubRepoName string
	GitHubBranch   string
}

// EnvVarInput holds environment variable data.
type EnvVarInput struct {
	ProjectID string
	UserID    string
	Key       string
	Value     string
	Target    string
}

// RuntimeInput carries an agent-reported runtime update.
type RuntimeInput struct {
	ProjectID    string
	UserID       string
	Status       string
	TunnelURL    string
	ErrorMessage string
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	envVars  repository.EnvVariableRepository
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New returns a project service.
func New(projects repository.ProjectRepository, envVars repository.EnvVariableRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{projects: projects, envVars: envVars, logger: logger, cfg: cfg}
}

// EnvVar is the masked representation returned by read APIs. Plaintext
// values never appear in responses after creation.
type EnvVar struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
}

const maskedValue = "••••••••"

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var (
	errInvalidName      = errors.New("project name is required")
	errInvalidSubdomain = errors.New("subdomain must be lowercase letters, digits and hyphens")
	errInvalidEnvKey    = errors.New("environment variable key is required")
	errInvalidEnvValue  = errors.New("environment variable value is required")
	errInvalidTarget    = errors.New("target must be all, production or preview")
	errInvalidStatus    = errors.New("status must be stopped, deploying or running")
	errMissingProjectID = errors.New("project id required")
)

// Create registers a new project with status stopped. A subdomain held
// by a different user maps to repository.ErrConflict; re-submitting the
// same subdomain as its owner updates the existing project in place.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidName
	}
	subdomain := strings.ToLower(strings.TrimSpace(input.Subdomain))
	if !subdomainPattern.MatchString(subdomain) {
		return nil, errInvalidSubdomain
	}
	branch := strings.TrimSpace(input.GitHubBranch)
	if branch == "" {
		branch = "main"
	}
	project := &domain.Project{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		Name:           input.Name,
		Subdomain:      subdomain,
		Status:         domain.ProjectStatusStopped,
		Framework:      strings.TrimSpace(input.Framework),
		GitHubRepoName: strings.TrimSpace(input.GitHubRepoName),
		GitHubBranch:   branch,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.projects.UpsertProjectBySubdomain(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project registered", "project_id", project.ID, "subdomain", project.Subdomain)
	return project, nil
}

// Get returns a project scoped to its owner. A project owned by someone
// else surfaces as ErrNotFound so existence does not leak.
func (s Service) Get(ctx context.Context, projectID, userID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if userID != "" && project.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return project, nil
}

// List returns the user's projects.
func (s Service) List(ctx context.Context, userID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByUser(ctx, userID)
}

// Delete removes a project and cascades to its deployments and env
// variables. Owner scoped.
func (s Service) Delete(ctx context.Context, projectID, userID string) error {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// LinkGitHub stores repository linkage and the webhook secret (encrypted).
func (s Service) LinkGitHub(ctx context.Context, projectID, userID, repoFullName, branch, webhookSecret string) error {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return err
	}
	repoFullName = strings.TrimSpace(repoFullName)
	if repoFullName == "" {
		return errors.New("repository full name is required")
	}
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = "main"
	}
	var secret []byte
	if strings.TrimSpace(webhookSecret) != "" {
		encrypted, err := crypto.EncryptString(s.cfg.SecretEncryptionKey, strings.TrimSpace(webhookSecret))
		if err != nil {
			return err
		}
		secret = encrypted
	}
	return s.projects.UpdateProjectGitHub(ctx, projectID, repoFullName, branch, secret)
}

// UpdateRuntime applies a status callback from the agent.
func (s Service) UpdateRuntime(ctx context.Context, input RuntimeInput) (*domain.Project, error) {
	if _, err := s.Get(ctx, input.ProjectID, input.UserID); err != nil {
		return nil, err
	}
	status := strings.TrimSpace(input.Status)
	switch status {
	case "", domain.ProjectStatusStopped, domain.ProjectStatusDeploying, domain.ProjectStatusRunning:
	default:
		return nil, errInvalidStatus
	}
	if err := s.projects.SetProjectRuntime(ctx, input.ProjectID, status, strings.TrimSpace(input.TunnelURL), strings.TrimSpace(input.ErrorMessage)); err != nil {
		return nil, err
	}
	return s.projects.GetProjectByID(ctx, input.ProjectID)
}

// AddEnvVar encrypts and stores an environment variable.
func (s Service) AddEnvVar(ctx context.Context, input EnvVarInput) error {
	if _, err := s.Get(ctx, input.ProjectID, input.UserID); err != nil {
		return err
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return errInvalidEnvKey
	}
	if input.Value == "" {
		return errInvalidEnvValue
	}
	target := strings.TrimSpace(input.Target)
	if target == "" {
		target = "all"
	}
	switch target {
	case "all", "production", "preview":
	default:
		return errInvalidTarget
	}
	ciphertext, err := crypto.EncryptString(s.cfg.SecretEncryptionKey, input.Value)
	if err != nil {
		return err
	}
	envVar := &domain.EnvVariable{
		ID:        uuid.NewString(),
		ProjectID: input.ProjectID,
		Key:       key,
		Value:     ciphertext,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
	return s.envVars.UpsertEnvVariable(ctx, envVar)
}

// ListEnvVars returns masked environment variables for a project.
func (s Service) ListEnvVars(ctx context.Context, projectID, userID string) ([]EnvVar, error) {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return nil, err
	}
	stored, err := s.envVars.ListEnvVariables(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vars := make([]EnvVar, 0, len(stored))
	for _, item := range stored {
		vars = append(vars, EnvVar{
			ID:        item.ID,
			Key:       item.Key,
			Value:     maskedValue,
			Target:    item.Target,
			CreatedAt: item.CreatedAt,
		})
	}
	return vars, nil
}

// DeleteEnvVar removes a key from a project.
func (s Service) DeleteEnvVar(ctx context.Context, projectID, userID, key string) error {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errInvalidEnvKey
	}
	return s.envVars.DeleteEnvVariable(ctx, projectID, key)
}
