package assign

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"log/slog"

	"github.com/harbornex/harbor/internal/repository"
)

// ErrChunkInUse marks a placement rejected because the chunk already
// hosts a running project. Callers match it with errors.Is.
var ErrChunkInUse = errors.New("chunk already hosts a running project")

// ChunkInUseError names the holder of a contested chunk.
type ChunkInUseError struct {
	ChunkID     string
	ProjectID   string
	ProjectName string
}

func (e *ChunkInUseError) Error() string {
	if e.ProjectName != "" {
		return fmt.Sprintf("chunk %s already hosts running project %q", e.ChunkID, e.ProjectName)
	}
	return fmt.Sprintf("chunk %s already hosts running project %s", e.ChunkID, e.ProjectID)
}

func (e *ChunkInUseError) Is(target error) bool {
	return target == ErrChunkInUse
}

func (e *ChunkInUseError) Unwrap() error {
	return repository.ErrConflict
}

// Guard serialises placements per chunk and enforces the invariant that
// a chunk hosts at most one running project at a time.
type Guard struct {
	projects repository.ProjectRepository
	chunks   repository.ChunkRepository
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard returns an assignment guard.
func NewGuard(projects repository.ProjectRepository, chunks repository.ChunkRepository, logger *slog.Logger) *Guard {
	return &Guard{
		projects: projects,
		chunks:   chunks,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Assign places a project on a chunk. Both must belong to the user.
// When the chunk already hosts a running project the placement fails
// with a ChunkInUseError naming the holder, and the target project is
// left untouched.
func (g *Guard) Assign(ctx context.Context, projectID, chunkID, userID string) error {
	project, err := g.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if userID != "" && project.UserID != userID {
		return repository.ErrNotFound
	}
	chunk, err := g.chunks.GetChunkByID(ctx, chunkID)
	if err != nil {
		return err
	}
	if userID != "" && chunk.UserID != userID {
		return repository.ErrNotFound
	}

	lock := g.chunkLock(chunkID)
	lock.Lock()
	defer lock.Unlock()

	holderID, err := g.projects.AssignChunk(ctx, projectID, chunkID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			inUse := &ChunkInUseError{ChunkID: chunkID, ProjectID: holderID}
			if holder, lookupErr := g.projects.GetProjectByID(ctx, holderID); lookupErr == nil {
				inUse.ProjectName = holder.Name
			}
			g.logger.Warn("chunk placement rejected",
				"chunk_id", chunkID, "project_id", projectID, "holder_id", holderID)
			return inUse
		}
		return err
	}
	g.logger.Info("project placed on chunk", "project_id", projectID, "chunk_id", chunkID)
	return nil
}

func (g *Guard) chunkLock(chunkID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[chunkID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[chunkID] = lock
	}
	return lock
}
