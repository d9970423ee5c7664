package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"log/slog"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/internal/service/deploy"
	"github.com/harbornex/harbor/pkg/config"
	"github.com/harbornex/harbor/pkg/crypto"
)

// ErrInvalidSignature marks a push whose HMAC signature does not match
// the project's webhook secret.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Result reports what a delivery did.
type Result struct {
	Triggered    bool   `json:"triggered"`
	Reason       string `json:"reason,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// Service turns GitHub push deliveries into deployments.
type Service struct {
	projects repository.ProjectRepository
	deploys  deploy.Service
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New returns a webhook service.
func New(projects repository.ProjectRepository, deploys deploy.Service, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{projects: projects, deploys: deploys, logger: logger, cfg: cfg}
}

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandlePush processes one delivery. Non-push events and pushes that
// match no linked project acknowledge without triggering anything, so
// GitHub does not retry. A project with a configured secret rejects
// deliveries whose signature is absent or wrong.
func (s Service) HandlePush(ctx context.Context, event, signature string, rawBody []byte) (*Result, error) {
	if event != "push" {
		return &Result{Reason: "ignored event " + event}, nil
	}
	var payload pushPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, repository.ErrInvalidArgument
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if payload.Repository.FullName == "" || branch == "" || branch == payload.Ref {
		return &Result{Reason: "not a branch push"}, nil
	}
	project, err := s.projects.FindProjectByRepoBranch(ctx, payload.Repository.FullName, branch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Result{Reason: "no project linked to " + payload.Repository.FullName + "@" + branch}, nil
		}
		return nil, err
	}
	if err := s.verifySignature(project, signature, rawBody); err != nil {
		return nil, err
	}
	if payload.After != "" {
		if err := s.projects.RecordLastCommit(ctx, project.ID, payload.After); err != nil {
			return nil, err
		}
	}
	deployment, err := s.deploys.Trigger(ctx, deploy.TriggerInput{
		ProjectID: project.ID,
		Branch:    branch,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("webhook triggered deployment",
		"project_id", project.ID, "deployment_id", deployment.ID, "commit", payload.After)
	return &Result{
		Triggered:    true,
		ProjectID:    project.ID,
		DeploymentID: deployment.ID,
	}, nil
}

// verifySignature checks the sha256= HMAC over the raw body. Projects
// without a stored secret accept unsigned deliveries.
func (s Service) verifySignature(project *domain.Project, signature string, rawBody []byte) error {
	if len(project.GitHubWebhookSecret) == 0 {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, "sha256=") {
		return ErrInvalidSignature
	}
	secret, err := crypto.DecryptToString(s.cfg.SecretEncryptionKey, project.GitHubWebhookSecret)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
