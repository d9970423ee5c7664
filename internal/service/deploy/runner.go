package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

type advanceFunc func(ctx context.Context, input AdvanceInput) (*domain.Deployment, error)

// Runner drives simulated builds in the background, one goroutine per
// deployment, each individually cancellable.
type Runner struct {
	logger    *slog.Logger
	stepDelay time.Duration

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
	advance advanceFunc
}

// NewRunner returns a build runner. The deploy service binds itself via
// New before any build starts.
func NewRunner(logger *slog.Logger, stepDelay time.Duration) *Runner {
	return &Runner{
		logger:    logger,
		stepDelay: stepDelay,
		active:    make(map[string]context.CancelFunc),
	}
}

func (r *Runner) bind(fn advanceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance = fn
}

// Start launches the build for a deployment. A second Start for the
// same deployment is ignored.
func (r *Runner) Start(deploymentID, projectID string) {
	r.mu.Lock()
	if r.advance == nil {
		r.mu.Unlock()
		return
	}
	if _, running := r.active[deploymentID]; running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.active[deploymentID] = cancel
	advance := r.advance
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.finish(deploymentID)
		r.simulateBuild(ctx, advance, deploymentID, projectID)
	}()
}

// Cancel stops the build for a deployment if it is still running.
func (r *Runner) Cancel(deploymentID string) {
	r.mu.Lock()
	cancel, ok := r.active[deploymentID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every running build and waits for the goroutines.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) finish(deploymentID string) {
	r.mu.Lock()
	if cancel, ok := r.active[deploymentID]; ok {
		cancel()
		delete(r.active, deploymentID)
	}
	r.mu.Unlock()
}

type buildStep struct {
	status string
	logs   string
}

// simulateBuild walks the deployment through building to success,
// appending log fragments along the way. Context cancellation or a
// rejected transition stops the walk and marks the build failed when
// that edge is still legal.
func (r *Runner) simulateBuild(ctx context.Context, advance advanceFunc, deploymentID, projectID string) {
	started := time.Now()
	steps := []buildStep{
		{status: domain.DeploymentStatusBuilding, logs: "Cloning repository...\n"},
		{status: "", logs: "Installing dependencies...\n"},
		{status: "", logs: "Building project...\n"},
		{status: "", logs: "Uploading artifacts...\n"},
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			r.fail(deploymentID, projectID, "build cancelled")
			return
		case <-time.After(r.stepDelay):
		}
		if _, err := advance(ctx, AdvanceInput{
			DeploymentID: deploymentID,
			Status:       step.status,
			LogsAppend:   step.logs,
		}); err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
				return
			}
			r.logger.Error("build step failed",
				"deployment_id", deploymentID, "project_id", projectID, "error", err)
			r.fail(deploymentID, projectID, err.Error())
			return
		}
	}
	duration := int(time.Since(started).Seconds())
	if _, err := advance(ctx, AdvanceInput{
		DeploymentID:    deploymentID,
		Status:          domain.DeploymentStatusSuccess,
		LogsAppend:      "Deployment live\n",
		DurationSeconds: &duration,
	}); err != nil {
		r.logger.Error("build completion failed",
			"deployment_id", deploymentID, "project_id", projectID, "error", err)
	}
}

func (r *Runner) fail(deploymentID, projectID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.mu.Lock()
	advance := r.advance
	r.mu.Unlock()
	if advance == nil {
		return
	}
	if _, err := advance(ctx, AdvanceInput{
		DeploymentID: deploymentID,
		Status:       domain.DeploymentStatusFailed,
		LogsAppend:   fmt.Sprintf("Build failed: %s\n", reason),
		ErrorMessage: reason,
	}); err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, ErrInvalidTransition) {
		r.logger.Error("build failure record failed",
			"deployment_id", deploymentID, "project_id", projectID, "error", err)
	}
}
