package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ROLLUP_TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Twitch   PlatformConfig
	Kick     PlatformConfig
	Poller   PollerConfig
	Rollup   RollupConfig
	Quality  QualityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
	MetricsAddr  string // worker /metrics listener; empty disables it
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/watchtime?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds operator token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds credentials and the sample archive bucket. An empty bucket disables archiving.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	Endpoint             string
	PresignExpireMinutes int
}

// PlatformConfig holds app credentials for one streaming platform. A platform without a
// client id is not polled.
type PlatformConfig struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	AuthURL      string
}

// Enabled reports whether credentials are configured.
func (p PlatformConfig) Enabled() bool { return p.ClientID != "" && p.ClientSecret != "" }

// PollerConfig tunes the poll cycle.
type PollerConfig struct {
	BatchSize      int
	Workers        int // concurrent platform batches
	CreatorWorkers int // creator partitions processed in parallel
	BatchTimeout   time.Duration
	RetryBackoff   time.Duration
	Interval       time.Duration // 0 disables the in-process ticker in `worker run`
	Platforms      []string      // empty means every platform with credentials
}

// RollupConfig holds the reference timezone and schedule of the aggregator.
type RollupConfig struct {
	Timezone string
	Location *time.Location
	Interval time.Duration
}

// QualityConfig holds data quality settings.
type QualityConfig struct {
	UnknownReviewThreshold int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout: getEnvInt("WRITE_TIMEOUT_SEC", 30),
			MetricsAddr:  getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "watchtime"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Twitch: PlatformConfig{
			ClientID:     getEnv("TWITCH_CLIENT_ID", ""),
			ClientSecret: getEnv("TWITCH_CLIENT_SECRET", ""),
			APIURL:       getEnv("TWITCH_API_URL", ""),
			AuthURL:      getEnv("TWITCH_AUTH_URL", ""),
		},
		Kick: PlatformConfig{
			ClientID:     getEnv("KICK_CLIENT_ID", ""),
			ClientSecret: getEnv("KICK_CLIENT_SECRET", ""),
			APIURL:       getEnv("KICK_API_URL", ""),
			AuthURL:      getEnv("KICK_AUTH_URL", ""),
		},
		Poller: PollerConfig{
			BatchSize:      getEnvInt("POLL_BATCH_SIZE", 0),
			Workers:        getEnvInt("POLL_WORKERS", 4),
			CreatorWorkers: getEnvInt("POLL_CREATOR_WORKERS", 8),
			BatchTimeout:   getEnvDuration("POLL_BATCH_TIMEOUT", 15*time.Second),
			RetryBackoff:   getEnvDuration("POLL_RETRY_BACKOFF", 2*time.Second),
			Interval:       getEnvDuration("POLL_INTERVAL", 0),
			Platforms:      splitTrim(getEnv("POLL_PLATFORMS", "")),
		},
		Rollup: RollupConfig{
			Timezone: getEnv("ROLLUP_TIMEZONE", "UTC"),
			Interval: getEnvDuration("ROLLUP_INTERVAL", 0),
		},
		Quality: QualityConfig{
			UnknownReviewThreshold: getEnvInt("QUALITY_UNKNOWN_REVIEW_THRESHOLD", 12),
		},
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks values that would break the engine at runtime and resolves the
// rollup location. It returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	loc, err := time.LoadLocation(c.Rollup.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("ROLLUP_TIMEZONE %q: %w", c.Rollup.Timezone, err))
	} else {
		c.Rollup.Location = loc
	}
	if c.Poller.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("POLL_BATCH_SIZE must not be negative, got %d", c.Poller.BatchSize))
	}
	if c.Poller.Workers <= 0 {
		errs = append(errs, fmt.Errorf("POLL_WORKERS must be positive, got %d", c.Poller.Workers))
	}
	if c.Poller.CreatorWorkers <= 0 {
		errs = append(errs, fmt.Errorf("POLL_CREATOR_WORKERS must be positive, got %d", c.Poller.CreatorWorkers))
	}
	if c.Poller.BatchTimeout <= 0 {
		errs = append(errs, errors.New("POLL_BATCH_TIMEOUT must be positive"))
	}
	if c.Quality.UnknownReviewThreshold <= 0 {
		errs = append(errs, fmt.Errorf("QUALITY_UNKNOWN_REVIEW_THRESHOLD must be positive, got %d", c.Quality.UnknownReviewThreshold))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	return errs
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// splitTrim splits a comma separated env value, dropping blanks.
func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
