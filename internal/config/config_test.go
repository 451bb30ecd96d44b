package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STORE_BACKEND", "IDEMPOTENCY_TTL_SECONDS", "HTTP_ADDR", "RIVER_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.False(t, cfg.RiverEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_TTLAcceptsSecondsOrDuration(t *testing.T) {
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "90")
	require.Equal(t, 90*time.Second, Load().IdempotencyTTL)

	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "2h")
	require.Equal(t, 2*time.Hour, Load().IdempotencyTTL)

}

func TestLoad_MalformedValuesFailValidation(t *testing.T) {
	for _, v := range []string{"1.5", "abc"} {
		t.Setenv("IDEMPOTENCY_TTL_SECONDS", v)
		cfg := Load()
		require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "IDEMPOTENCY_TTL_SECONDS")
	}

	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "")
	t.Setenv("RIVER_MAX_WORKERS", "many")
	err := Load().Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "RIVER_MAX_WORKERS")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	prod := filepath.Join(dir, ".env.prod")
	base := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(prod, []byte("STORE_BACKEND=redis\n"), 0o600))
	require.NoError(t, os.WriteFile(base, []byte("STORE_BACKEND=sqlite\nMETRICS_NAMESPACE=fromfile\nHTTP_ADDR=:9999\n"), 0o600))

	// t.Setenv restores the variables afterwards; the empty values are then
	// unset so the files can provide them.
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("METRICS_NAMESPACE", "")
	t.Setenv("HTTP_ADDR", ":7000")
	require.NoError(t, os.Unsetenv("STORE_BACKEND"))
	require.NoError(t, os.Unsetenv("METRICS_NAMESPACE"))

	require.NoError(t, LoadEnvFiles(prod, base, filepath.Join(dir, "missing.env")))

	cfg := Load()
	require.Equal(t, BackendRedis, cfg.StoreBackend, "earlier file wins")
	require.Equal(t, "fromfile", cfg.MetricsNamespace)
	require.Equal(t, ":7000", cfg.HTTPAddr, "process environment wins")
}

func TestLoad_BackendIsCaseInsensitive(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	require.Equal(t, BackendRedis, Load().StoreBackend)
}

func TestValidate(t *testing.T) {
	valid := Config{
		HTTPAddr:        ":8080",
		IdempotencyTTL:  time.Hour,
		StoreBackend:    BackendMemory,
		RiverMaxWorkers: 1,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero ttl", func(c *Config) { c.IdempotencyTTL = 0 }, "IDEMPOTENCY_TTL_SECONDS"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "etcd" }, "unknown STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"mysql without dsn", func(c *Config) { c.StoreBackend = BackendMySQL }, "MYSQL_DSN"},
		{"river without database", func(c *Config) { c.RiverEnabled = true }, "RIVER_ENABLED"},
		{"postgres with url", func(c *Config) {
			c.StoreBackend = BackendPostgres
			c.DatabaseURL = "postgres://localhost/payments"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestIsProduction(t *testing.T) {
	require.True(t, Config{Env: "Production"}.IsProduction())
	require.True(t, Config{Env: "prod-eu"}.IsProduction())
	require.False(t, Config{Env: "development"}.IsProduction())
}
