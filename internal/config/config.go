package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFiles are read by LoadEnvFiles in the daemon, highest precedence
// first. Variables already set in the process environment always win.
var DefaultEnvFiles = []string{".env.prod", ".env"}

// Store backends accepted in STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
)

// Config holds runtime configuration.
type Config struct {
	Env      string
	HTTPAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsNamespace string

	// Idempotency
	IdempotencyTTL   time.Duration
	FingerprintCheck bool

	// Persistence
	StoreBackend   string
	DatabaseURL    string
	SQLitePath     string
	MySQLDSN       string
	RedisURL       string
	RedisPrefix    string
	RedisRetention time.Duration
	TableName      string

	// Background jobs
	RiverEnabled    bool
	RiverMaxWorkers int

	ShutdownTimeout time.Duration

	// parseErrs holds malformed values seen by Load; Validate reports them.
	parseErrs []error
}

// LoadEnvFiles copies variables from dotenv files into the process
// environment without overriding anything already set. Earlier files take
// precedence over later ones. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Load populates Config using environment variables.
func Load() Config {
	var p envParser
	cfg := Config{
		Env:              getenv("APP_ENV", "development"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "payments"),
		IdempotencyTTL:   p.duration("IDEMPOTENCY_TTL_SECONDS", 24*time.Hour),
		FingerprintCheck: strings.EqualFold(os.Getenv("IDEMPOTENCY_FINGERPRINT_CHECK"), "true"),
		StoreBackend:     strings.ToLower(getenv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getenv("SQLITE_PATH", "idempotency.db"),
		MySQLDSN:         os.Getenv("MYSQL_DSN"),
		RedisURL:         getenv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:      getenv("REDIS_PREFIX", "idem:"),
		RedisRetention:   p.duration("REDIS_RETENTION", 24*time.Hour),
		TableName:        getenv("IDEMPOTENCY_TABLE", "idempotency_records"),
		RiverEnabled:     strings.EqualFold(os.Getenv("RIVER_ENABLED"), "true"),
		RiverMaxWorkers:  p.integer("RIVER_MAX_WORKERS", 10),
		ShutdownTimeout:  p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.parseErrs = p.errs
	return cfg
}

// Validate reports configuration that cannot start a working service.
func (c Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL_SECONDS must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for the mysql backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.RiverEnabled {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("RIVER_ENABLED requires DATABASE_URL"))
		}
		if c.RiverMaxWorkers <= 0 {
			errs = append(errs, errors.New("RIVER_MAX_WORKERS must be positive"))
		}
	}

	return errors.Join(errs...)
}

// IsProduction reports whether Env names a production deployment.
func (c Config) IsProduction() bool {
	return strings.HasPrefix(strings.ToLower(c.Env), "prod")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envParser reads typed variables and remembers the ones it could not parse.
type envParser struct {
	errs []error
}

func (p *envParser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return i
}

// duration accepts either a Go duration ("90s", "24h") or a bare number of
// seconds.
func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
	return def
}
