package chunk

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

// HeartbeatInput carries a telemetry report from a node.
type HeartbeatInput struct {
	ChunkID string
	UserID  string
	Name    string
	Type    string
	DC      int
	DM      int
	DS      int
	DB      int
	UsageDC float64
	UsageDM float64
	UsageDS float64
	UsageDB float64
}

// Service manages compute node registration and telemetry.
type Service struct {
	chunks repository.ChunkRepository
	logger *slog.Logger
}

// New returns a chunk service.
func New(chunks repository.ChunkRepository, logger *slog.Logger) Service {
	return Service{chunks: chunks, logger: logger}
}

var errInvalidChunkType = errors.New("chunk type must be chunk or pod")

// Heartbeat registers the node on first contact and refreshes its
// telemetry afterwards. The node comes back online regardless of the
// state the sweeper left it in.
func (s Service) Heartbeat(ctx context.Context, input HeartbeatInput) (*domain.Chunk, error) {
	chunkType := strings.TrimSpace(input.Type)
	if chunkType == "" {
		chunkType = domain.ChunkTypeOwned
	}
	switch chunkType {
	case domain.ChunkTypeOwned, domain.ChunkTypePod:
	default:
		return nil, errInvalidChunkType
	}
	chunkID := strings.TrimSpace(input.ChunkID)
	if chunkID == "" {
		chunkID = uuid.NewString()
	} else if existing, err := s.chunks.GetChunkByID(ctx, chunkID); err == nil {
		if existing.UserID != input.UserID {
			return nil, repository.ErrNotFound
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		// Caller-supplied ids can be arbitrarily short.
		suffix := chunkID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		name = "chunk-" + suffix
	}
	now := time.Now().UTC()
	chunk := &domain.Chunk{
		ID:         chunkID,
		UserID:     input.UserID,
		Name:       name,
		Status:     domain.ChunkStatusOnline,
		Type:       chunkType,
		DC:         input.DC,
		DM:         input.DM,
		DS:         input.DS,
		DB:         input.DB,
		UsageDC:    clampUsage(input.UsageDC),
		UsageDM:    clampUsage(input.UsageDM),
		UsageDS:    clampUsage(input.UsageDS),
		UsageDB:    clampUsage(input.UsageDB),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.chunks.UpsertChunk(ctx, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Get returns a chunk scoped to its owner.
func (s Service) Get(ctx context.Context, chunkID, userID string) (*domain.Chunk, error) {
	chunk, err := s.chunks.GetChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if userID != "" && chunk.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return chunk, nil
}

// ListForUser returns the user's owned nodes, excluding pods.
func (s Service) ListForUser(ctx context.Context, userID string) ([]domain.Chunk, error) {
	return s.chunks.ListChunksByUser(ctx, userID, domain.ChunkTypeOwned)
}

// ListOnline returns the user's online owned nodes in registration order.
func (s Service) ListOnline(ctx context.Context, userID string) ([]domain.Chunk, error) {
	return s.chunks.ListOnlineChunksByUser(ctx, userID)
}

func clampUsage(usage float64) float64 {
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}
