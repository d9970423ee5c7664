package project

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/pkg/config"
	"github.com/harbornex/harbor/pkg/crypto"
)

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[string]domain.Project
	deleted  []string
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[string]domain.Project)}
}

func (f *fakeProjectRepo) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := project
	return &copied, nil
}


func (f *fakeProjectRepo) FindProjectByRepoBranch(_ context.Context, repoFullName, branch string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeProjectRepo) ListProjectsByUser(_ context.Context, userID string) ([]domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var projects []domain.Project
	for _, project := range f.projects {
		if project.UserID == userID {
			projects = append(projects, project)
		}
	}
	return projects, nil
}

func (f *fakeProjectRepo) UpsertProjectBySubdomain(_ context.Context, project *domain.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.projects {
		if existing.Subdomain != project.Subdomain {
			continue
		}
		if existing.UserID != project.UserID {
			return repository.ErrConflict
		}
		existing.Name = project.Name
		existing.Framework = project.Framework
		f.projects[id] = existing
		*project = existing
		return nil
	}
	f.projects[project.ID] = *project
	return nil
}

func (f *fakeProjectRepo) UpdateProjectGitHub(_ context.Context, projectID, repoFullName, branch string, webhookSecret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	project.GitHubRepoName = repoFullName
	project.GitHubBranch = branch
	if webhookSecret != nil {
		project.GitHubWebhookSecret = webhookSecret
	}
	f.projects[projectID] = project
	return nil
}


func (f *fakeProjectRepo) SetProjectRuntime(_ context.Context, projectID, status, tunnelURL, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	if status != "" {
		project.Status = status
	}
	if tunnelURL != "" {
		project.TunnelURL = tunnelURL
	}
	if errorMessage != "" {
		project.LastError = errorMessage
	}
	f.projects[projectID] = project
	return nil
}

func (f *fakeProjectRepo) RecordLastCommit(_ context.Context, projectID, commitSHA string) error {
	return nil
}

func (f *fakeProjectRepo) AssignChunk(_ context.Context, projectID, chunkID string) (string, error) {
	return "", nil
}

func (f *fakeProjectRepo) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.projects, projectID)
	f.deleted = append(f.deleted, projectID)
	return nil
}

type fakeEnvRepo struct {
	mu   sync.Mutex
	vars map[string]domain.EnvVariable
}

func newFakeEnvRepo() *fakeEnvRepo {
	return &fakeEnvRepo{vars: make(map[string]domain.EnvVariable)}
}

func (f *fakeEnvRepo) UpsertEnvVariable(_ context.Context, envVar *domain.EnvVariable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vars[envVar.ProjectID+"/"+envVar.Key] = *envVar
	return nil
}

func (f *fakeEnvRepo) ListEnvVariables(_ context.Context, projectID string) ([]domain.EnvVariable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var vars []domain.EnvVariable
	for _, envVar := range f.vars {
		if envVar.ProjectID == projectID {
			vars = append(vars, envVar)
		}
	}
	return vars, nil
}

func (f *fakeEnvRepo) DeleteEnvVariable(_ context.Context, projectID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vars[projectID+"/"+key]; !ok {
		return repository.ErrNotFound
	}
	delete(f.vars, projectID+"/"+key)
	return nil
}

func newTestService(projects *fakeProjectRepo, envVars *fakeEnvRepo) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := config.APIConfig{SecretEncryptionKey: "test-encryption-key"}
	return New(projects, envVars, logger, cfg)
}

func TestCreateValidatesSubdomain(t *testing.T) {
	svc := newTestService(newFakeProjectRepo(), newFakeEnvRepo())

	cases := []string{"", "Has Spaces", "UPPER", "-leading", "trailing-", "dot.ted"}
	for _, subdomain := range cases {
		_, err := svc.Create(context.Background(), CreateInput{
			UserID:    "user-1",
			Name:      "app",
			Subdomain: subdomain,
		})
		if err == nil {
			t.Fatalf("expected rejection for subdomain %q", subdomain)
		}
	}
}

func TestCreateDefaultsBranchAndStatus(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{
		UserID:    "user-1",
		Name:      "app",
		Subdomain: "my-app",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if project.Status != domain.ProjectStatusStopped {
		t.Fatalf("expected stopped, got %s", project.Status)
	}
	if project.GitHubBranch != "main" {
		t.Fatalf("expected default branch main, got %s", project.GitHubBranch)
	}
}

func TestCreateSameOwnerResubmitUpdates(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	first, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	second, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "renamed", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("resubmit returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resubmit created a second project")
	}
	if second.Name != "renamed" {
		t.Fatalf("resubmit did not update name, got %s", second.Name)
	}
}

func TestCreateForeignSubdomainConflicts(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	if _, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_, err := svc.Create(context.Background(), CreateInput{UserID: "user-2", Name: "other", Subdomain: "my-app"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetNotOwnedLooksMissing(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_, err = svc.Get(context.Background(), project.ID, "user-2")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestEnvVarsMaskedOnRead(t *testing.T) {
	repo := newFakeProjectRepo()
	envRepo := newFakeEnvRepo()
	svc := newTestService(repo, envRepo)

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := svc.AddEnvVar(context.Background(), EnvVarInput{
		ProjectID: project.ID,
		UserID:    "user-1",
		Key:       "DATABASE_URL",
		Value:     "postgres://secret",
	}); err != nil {
		t.Fatalf("AddEnvVar returned error: %v", err)
	}

	vars, err := svc.ListEnvVars(context.Background(), project.ID, "user-1")
	if err != nil {
		t.Fatalf("ListEnvVars returned error: %v", err)
	}
	if len(vars) != 1 {
		t.Fatalf("expected one env var, got %d", len(vars))
	}
	if vars[0].Value != maskedValue {
		t.Fatalf("expected masked value, got %q", vars[0].Value)
	}
	if vars[0].Target != "all" {
		t.Fatalf("expected default target all, got %q", vars[0].Target)
	}
	if strings.Contains(vars[0].Value, "secret") {
		t.Fatalf("plaintext leaked into read API")
	}
}

func TestEnvVarStoredEncrypted(t *testing.T) {
	repo := newFakeProjectRepo()
	envRepo := newFakeEnvRepo()
	svc := newTestService(repo, envRepo)

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := svc.AddEnvVar(context.Background(), EnvVarInput{
		ProjectID: project.ID,
		UserID:    "user-1",
		Key:       "TOKEN",
		Value:     "hunter2",
		Target:    "production",
	}); err != nil {
		t.Fatalf("AddEnvVar returned error: %v", err)
	}

	stored := envRepo.vars[project.ID+"/TOKEN"]
	if string(stored.Value) == "hunter2" {
		t.Fatalf("value stored in plaintext")
	}
	plaintext, err := crypto.DecryptToString("test-encryption-key", stored.Value)
	if err != nil {
		t.Fatalf("stored value does not decrypt: %v", err)
	}
	if plaintext != "hunter2" {
		t.Fatalf("decrypted %q, want hunter2", plaintext)
	}
}

func TestAddEnvVarRejectsBadTarget(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	err = svc.AddEnvVar(context.Background(), EnvVarInput{
		ProjectID: project.ID,
		UserID:    "user-1",
		Key:       "K",
		Value:     "v",
		Target:    "staging",
	})
	if !errors.Is(err, errInvalidTarget) {
		t.Fatalf("expected errInvalidTarget, got %v", err)
	}
}

func TestLinkGitHubEncryptsSecret(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := svc.LinkGitHub(context.Background(), project.ID, "user-1", "octo/app", "release", "whsec_123"); err != nil {
		t.Fatalf("LinkGitHub returned error: %v", err)
	}

	stored, err := repo.GetProjectByID(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProjectByID returned error: %v", err)
	}
	if stored.GitHubRepoName != "octo/app" || stored.GitHubBranch != "release" {
		t.Fatalf("linkage not stored: %+v", stored)
	}
	if string(stored.GitHubWebhookSecret) == "whsec_123" {
		t.Fatalf("webhook secret stored in plaintext")
	}
	plaintext, err := crypto.DecryptToString("test-encryption-key", stored.GitHubWebhookSecret)
	if err != nil {
		t.Fatalf("stored secret does not decrypt: %v", err)
	}
	if plaintext != "whsec_123" {
		t.Fatalf("decrypted %q, want whsec_123", plaintext)
	}
}

func TestUpdateRuntimeRejectsUnknownStatus(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_, err = svc.UpdateRuntime(context.Background(), RuntimeInput{
		ProjectID: project.ID,
		UserID:    "user-1",
		Status:    "exploded",
	})
	if !errors.Is(err, errInvalidStatus) {
		t.Fatalf("expected errInvalidStatus, got %v", err)
	}
}

func TestDeleteNotOwnedLooksMissing(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	project, err := svc.Create(context.Background(), CreateInput{UserID: "user-1", Name: "app", Subdomain: "my-app"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := svc.Delete(context.Background(), project.ID, "user-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign delete, got %v", err)
	}
	if len(repo.deleted) != 0 {
		t.Fatalf("foreign delete reached the repository")
	}
	if err := svc.Delete(context.Background(), project.ID, "user-1"); err != nil {
		t.Fatalf("owner delete returned error: %v", err)
	}
}

func seedStoredProject(repo *fakeProjectRepo, userID, subdomain string) domain.Project {
	project := domain.Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Subdomain: subdomain,
		Name:      subdomain,
		Status:    domain.ProjectStatusStopped,
		CreatedAt: time.Now().UTC(),
	}
	repo.mu.Lock()
	repo.projects[project.ID] = project
	repo.mu.Unlock()
	return project
}

func TestListScopedToUser(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newTestService(repo, newFakeEnvRepo())

	seedStoredProject(repo, "user-1", "one")
	seedStoredProject(repo, "user-1", "two")
	seedStoredProject(repo, "user-2", "three")

	projects, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
}
