package domain

import "time"

// Project statuses.
const (
	ProjectStatusStopped   = "stopped"
	ProjectStatusDeploying = "deploying"
	ProjectStatusRunning   = "running"
)

// Project describes a deployable unit. Subdomain is globally unique;
// ChunkID is the nullable assignment the guard arbitrates.
type Project struct {
	ID                  string
	UserID              string
	Name                string
	Subdomain           string
	Status              string
	Framework           string
	GitHubRepoName      string
	GitHubBranch        string
	GitHubWebhookSecret []byte `json:"-"`
	GitHubLastCommit    string
	ChunkID             *string
	TunnelURL           string
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EnvVariable stores an encrypted key/value scoped to a project.
// (project_id, key) is unique; plaintext never leaves the service layer.
type EnvVariable struct {
	ID        string
	ProjectID string
	Key       string
	Value     []byte
	Target    string
	CreatedAt time.Time
}
