package config

import "time"

// APIConfig holds runtime configuration for the harbor API service.
type APIConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	SecretEncryptionKey string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	DeployDomainSuffix  string
	LogBuffer           int
	ChunkHeartbeatTTL   time.Duration
	ChunkSweepInterval  time.Duration
	BuildStepDelay      time.Duration
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://harbor:harbor@db:5432/harbor?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		SecretEncryptionKey: GetString("SECRET_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:     time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		DeployDomainSuffix:  GetString("DEPLOY_DOMAIN_SUFFIX", ".harbor.dev"),
		LogBuffer:           GetInt("WS_LOG_BUFFER", 100),
		ChunkHeartbeatTTL:   time.Duration(GetInt("CHUNK_HEARTBEAT_TTL_SECONDS", 90)) * time.Second,
		ChunkSweepInterval:  time.Duration(GetInt("CHUNK_SWEEP_SECONDS", 30)) * time.Second,
		BuildStepDelay:      time.Duration(GetInt("BUILD_STEP_DELAY_MS", 1500)) * time.Millisecond,
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
