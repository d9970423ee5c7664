package domain

import "time"

// Deployment statuses. Success and failed are terminal.
const (
	DeploymentStatusPending  = "pending"
	DeploymentStatusBuilding = "building"
	DeploymentStatusSuccess  = "success"
	DeploymentStatusFailed   = "failed"
)

// Deployment captures a single build attempt. Versions are assigned
// per project, strictly increasing and gapless at creation time.
type Deployment struct {
	ID              string
	ProjectID       string
	Version         int
	Status          string
	Branch          string
	BuildLogs       string
	DurationSeconds *int
	URL             string
	ErrorMessage    string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// DeploymentUpdate carries mutable fields for a status advance.
// Empty strings and nil pointers leave the stored value unchanged.
type DeploymentUpdate struct {
	DeploymentID    string
	Status          string
	LogsAppend      string
	DurationSeconds *int
	URL             string
	ErrorMessage    string
	CompletedAt     *time.Time
}
