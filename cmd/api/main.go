package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/harbornex/harbor/internal/app/migrate"
	httpx "github.com/harbornex/harbor/internal/http"
	"github.com/harbornex/harbor/internal/repository/postgres"
	"github.com/harbornex/harbor/internal/service/assign"
	"github.com/harbornex/harbor/internal/service/auth"
	"github.com/harbornex/harbor/internal/service/chunk"
	"github.com/harbornex/harbor/internal/service/deploy"
	"github.com/harbornex/harbor/internal/service/project"
	"github.com/harbornex/harbor/internal/service/webhook"
	"github.com/harbornex/harbor/internal/ws"
	"github.com/harbornex/harbor/pkg/config"
	"github.com/harbornex/harbor/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	buildHub := ws.NewHub(cfg.LogBuffer)

	authSvc := auth.New(repo, log, cfg)
	projectSvc := project.New(repo, repo, log, cfg)
	chunkSvc := chunk.New(repo, log)
	guard := assign.NewGuard(repo, repo, log)
	buildRunner := deploy.NewRunner(log, cfg.BuildStepDelay)
	deploySvc := deploy.New(repo, repo, repo, guard, buildRunner, buildHub, log, cfg)
	webhookSvc := webhook.New(repo, deploySvc, log, cfg)

	monitor := chunk.NewMonitor(repo, log, cfg.ChunkHeartbeatTTL, cfg.ChunkSweepInterval)
	go monitor.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, chunkSvc, deploySvc, webhookSvc, guard, buildHub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		buildRunner.Shutdown()
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
