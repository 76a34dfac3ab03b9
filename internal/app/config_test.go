package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DSN", "postgres://localhost/fulfillment")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 4, cfg.Generation.Workers)
	require.Equal(t, 2*time.Minute, cfg.Generation.LLMTimeout)
	require.Equal(t, "append", cfg.Reconcile.Mode)
	require.Equal(t, time.Minute, cfg.Reconcile.RepairInterval)
	require.Equal(t, time.Minute, cfg.Generation.LeaseTTL)
	require.False(t, cfg.Otel.Enabled)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfigFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  driver: sqlite
  dsn: file:dev.db
openai:
  api_key: sk-yaml
reconcile:
  mode: upsert
generation:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("GENERATION_WORKERS", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "upsert", cfg.Reconcile.Mode)
	require.Equal(t, 2, cfg.Generation.Workers)
	require.Equal(t, "sk-yaml", cfg.OpenAI.APIKey)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Config{
		Database:   DatabaseConfig{Driver: "mysql"},
		Reconcile:  ReconcileConfig{Mode: "replace", RepairInterval: time.Millisecond},
		Generation: GenerationConfig{},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.driver", "database.dsn", "openai.api_key", "reconcile.mode", "generation.workers", "generation.lease_ttl", "reconcile.repair_interval", "webhook.secret"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateWebhookSecretRequiredOutsideSQLite(t *testing.T) {
	cfg := Config{
		Database:   DatabaseConfig{Driver: "postgres", DSN: "postgres://localhost/fulfillment"},
		OpenAI:     OpenAIConfig{APIKey: "sk-test"},
		Generation: GenerationConfig{Workers: 1, QueueSize: 1, LLMTimeout: time.Minute, LeaseTTL: time.Minute},
		Reconcile:  ReconcileConfig{Mode: "append", RepairInterval: time.Minute},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "webhook.secret")

	cfg.Webhook.Secret = "hook"
	require.NoError(t, cfg.Validate())

	cfg.Webhook.Secret = ""
	cfg.Database = DatabaseConfig{Driver: "sqlite", DSN: "file:dev.db"}
	require.NoError(t, cfg.Validate())
}
