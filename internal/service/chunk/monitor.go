package chunk

import (
	"context"
	"time"

	"log/slog"

	"github.com/harbornex/harbor/internal/repository"
)

// Monitor sweeps chunks whose heartbeat expired and marks them offline.
type Monitor struct {
	chunks   repository.ChunkRepository
	logger   *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

// NewMonitor returns a staleness monitor.
func NewMonitor(chunks repository.ChunkRepository, logger *slog.Logger, ttl, interval time.Duration) *Monitor {
	return &Monitor{chunks: chunks, logger: logger, ttl: ttl, interval: interval}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.ttl)
	marked, err := m.chunks.MarkChunksOffline(ctx, cutoff)
	if err != nil {
		m.logger.Error("chunk sweep failed", "error", err)
		return
	}
	if marked > 0 {
		m.logger.Info("chunks marked offline", "count", marked)
	}
}
