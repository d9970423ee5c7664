package chunk

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
)

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks map[string]domain.Chunk
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{chunks: make(map[string]domain.Chunk)}
}

func (f *fakeChunkRepo) UpsertChunk(_ context.Context, chunk *domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[chunk.ID] = *chunk
	return nil
}

func (f *fakeChunkRepo) GetChunkByID(_ context.Context, chunkID string) (*domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunk, ok := f.chunks[chunkID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := chunk
	return &copied, nil
}

func (f *fakeChunkRepo) ListChunksByUser(_ context.Context, userID, chunkType string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chunks []domain.Chunk
	for _, chunk := range f.chunks {
		if chunk.UserID != userID {
			continue
		}
		if chunkType != "" && chunk.Type != chunkType {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (f *fakeChunkRepo) ListOnlineChunksByUser(_ context.Context, userID string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chunks []domain.Chunk
	for _, chunk := range f.chunks {
		if chunk.UserID == userID && chunk.Status == domain.ChunkStatusOnline && chunk.Type == domain.ChunkTypeOwned {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (f *fakeChunkRepo) MarkChunksOffline(_ context.Context, lastSeenBefore time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	marked := 0
	for id, chunk := range f.chunks {
		if chunk.Status == domain.ChunkStatusOnline && chunk.LastSeenAt.Before(lastSeenBefore) {
			chunk.Status = domain.ChunkStatusOffline
			f.chunks[id] = chunk
			marked++
		}
	}
	return marked, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestHeartbeatRegistersNewChunk(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	chunk, err := svc.Heartbeat(context.Background(), HeartbeatInput{
		UserID:  "user-1",
		Name:    "garage-box",
		DC:      8,
		DM:      16384,
		UsageDC: 42.5,
	})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if chunk.ID == "" {
		t.Fatalf("expected generated chunk ID")
	}
	if chunk.Status != domain.ChunkStatusOnline {
		t.Fatalf("expected online, got %s", chunk.Status)
	}
	if chunk.Type != domain.ChunkTypeOwned {
		t.Fatalf("expected default type chunk, got %s", chunk.Type)
	}
}

func TestHeartbeatShortChunkIDDefaultsName(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	chunk, err := svc.Heartbeat(context.Background(), HeartbeatInput{
		ChunkID: "abc",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if chunk.Name != "chunk-abc" {
		t.Fatalf("unexpected default name %q", chunk.Name)
	}
	if chunk.ID != "abc" {
		t.Fatalf("expected supplied id kept, got %q", chunk.ID)
	}
}

func TestHeartbeatClampsUsage(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	chunk, err := svc.Heartbeat(context.Background(), HeartbeatInput{
		UserID:  "user-1",
		UsageDC: 140,
		UsageDM: -3,
		UsageDS: 99.9,
	})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if chunk.UsageDC != 100 {
		t.Fatalf("expected usage clamped to 100, got %v", chunk.UsageDC)
	}
	if chunk.UsageDM != 0 {
		t.Fatalf("expected usage clamped to 0, got %v", chunk.UsageDM)
	}
	if chunk.UsageDS != 99.9 {
		t.Fatalf("in-range usage altered: %v", chunk.UsageDS)
	}
}

func TestHeartbeatRejectsForeignChunkID(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	owned, err := svc.Heartbeat(context.Background(), HeartbeatInput{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	_, err = svc.Heartbeat(context.Background(), HeartbeatInput{
		ChunkID: owned.ID,
		UserID:  "user-2",
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign chunk, got %v", err)
	}
}

func TestHeartbeatRejectsUnknownType(t *testing.T) {
	svc := New(newFakeChunkRepo(), testLogger())

	_, err := svc.Heartbeat(context.Background(), HeartbeatInput{UserID: "user-1", Type: "mainframe"})
	if !errors.Is(err, errInvalidChunkType) {
		t.Fatalf("expected errInvalidChunkType, got %v", err)
	}
}

func TestHeartbeatBringsSweptChunkBackOnline(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	chunk, err := svc.Heartbeat(context.Background(), HeartbeatInput{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}

	repo.mu.Lock()
	stale := repo.chunks[chunk.ID]
	stale.Status = domain.ChunkStatusOffline
	stale.LastSeenAt = time.Now().UTC().Add(-time.Hour)
	repo.chunks[chunk.ID] = stale
	repo.mu.Unlock()

	refreshed, err := svc.Heartbeat(context.Background(), HeartbeatInput{ChunkID: chunk.ID, UserID: "user-1"})
	if err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if refreshed.Status != domain.ChunkStatusOnline {
		t.Fatalf("expected chunk back online, got %s", refreshed.Status)
	}
}

func TestMonitorMarksStaleChunksOffline(t *testing.T) {
	repo := newFakeChunkRepo()
	monitor := NewMonitor(repo, testLogger(), time.Minute, time.Minute)

	stale := domain.Chunk{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Status:     domain.ChunkStatusOnline,
		Type:       domain.ChunkTypeOwned,
		LastSeenAt: time.Now().UTC().Add(-10 * time.Minute),
	}
	fresh := domain.Chunk{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Status:     domain.ChunkStatusOnline,
		Type:       domain.ChunkTypeOwned,
		LastSeenAt: time.Now().UTC(),
	}
	repo.chunks[stale.ID] = stale
	repo.chunks[fresh.ID] = fresh

	monitor.sweep(context.Background())

	if got := repo.chunks[stale.ID].Status; got != domain.ChunkStatusOffline {
		t.Fatalf("expected stale chunk offline, got %s", got)
	}
	if got := repo.chunks[fresh.ID].Status; got != domain.ChunkStatusOnline {
		t.Fatalf("fresh chunk swept offline")
	}
}

func TestListForUserExcludesPods(t *testing.T) {
	repo := newFakeChunkRepo()
	svc := New(repo, testLogger())

	if _, err := svc.Heartbeat(context.Background(), HeartbeatInput{UserID: "user-1", Name: "node"}); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	if _, err := svc.Heartbeat(context.Background(), HeartbeatInput{UserID: "user-1", Name: "pod", Type: domain.ChunkTypePod}); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}

	chunks, err := svc.ListForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListForUser returned error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected pods excluded, got %d chunks", len(chunks))
	}
	if chunks[0].Type != domain.ChunkTypeOwned {
		t.Fatalf("unexpected chunk type %s", chunks[0].Type)
	}
}
