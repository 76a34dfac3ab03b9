package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/yungbote/fulfillment-backend/internal/data/db"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

// Config is the root service configuration. Priority: ENV > YAML > env-default tags.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Generation GenerationConfig `yaml:"generation"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Otel       OtelConfig       `yaml:"otel"`
	Log        LogConfig        `yaml:"log"`
	CORS       CORSConfig       `yaml:"cors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SERVER_ADDR"             env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"            env:"DATABASE_DRIVER"            env-default:"postgres"`
	DSN             string        `yaml:"dsn"               env:"DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DATABASE_MAX_OPEN_CONNS"    env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DATABASE_MAX_IDLE_CONNS"    env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"30m"`
	SlowThreshold   time.Duration `yaml:"slow_threshold"    env:"DATABASE_SLOW_THRESHOLD"    env-default:"500ms"`
}

// RedisConfig enables multi-instance fan-out of progress events when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"REDIS_DB"       env-default:"0"`
	Channel  string `yaml:"channel"  env:"REDIS_CHANNEL"  env-default:"generation-updates"`
}

type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key"             env:"OPENAI_API_KEY"`
	BaseURL           string  `yaml:"base_url"            env:"OPENAI_BASE_URL"`
	Model             string  `yaml:"model"               env:"OPENAI_MODEL"               env-default:"gpt-4o-mini"`
	MaxTokens         int64   `yaml:"max_tokens"          env:"OPENAI_MAX_TOKENS"          env-default:"4096"`
	Temperature       float64 `yaml:"temperature"         env:"OPENAI_TEMPERATURE"         env-default:"0.7"`
	MaxRetries        int     `yaml:"max_retries"         env:"OPENAI_MAX_RETRIES"         env-default:"2"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"OPENAI_REQUESTS_PER_SECOND" env-default:"2"`
	Burst             int     `yaml:"burst"               env:"OPENAI_BURST"               env-default:"4"`
}

// WebhookConfig holds the shared secret required on intake endpoints. It may only be empty
// with the sqlite driver.
type WebhookConfig struct {
	Secret string `yaml:"secret" env:"WEBHOOK_SECRET"`
}

type GenerationConfig struct {
	Workers           int           `yaml:"workers"            env:"GENERATION_WORKERS"     env-default:"4"`
	QueueSize         int           `yaml:"queue_size"         env:"GENERATION_QUEUE_SIZE"  env-default:"64"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"        env:"GENERATION_LLM_TIMEOUT" env-default:"2m"`
	IntakeConcurrency int           `yaml:"intake_concurrency" env:"INTAKE_CONCURRENCY"     env-default:"4"`

	// InstanceID owns the jobs this process starts; empty means the host name.
	InstanceID string        `yaml:"instance_id" env:"GENERATION_INSTANCE_ID"`
	LeaseTTL   time.Duration `yaml:"lease_ttl"   env:"GENERATION_LEASE_TTL"   env-default:"1m"`
}

type ReconcileConfig struct {
	Mode              string        `yaml:"mode"                env:"RECONCILE_MODE"                env-default:"append"`
	RepairInterval    time.Duration `yaml:"repair_interval"     env:"RECONCILE_REPAIR_INTERVAL"     env-default:"1m"`
	RepairGrace       time.Duration `yaml:"repair_grace"        env:"RECONCILE_REPAIR_GRACE"        env-default:"1m"`
	RepairMaxAttempts int           `yaml:"repair_max_attempts" env:"RECONCILE_REPAIR_MAX_ATTEMPTS" env-default:"10"`
	RepairBatch       int           `yaml:"repair_batch"        env:"RECONCILE_REPAIR_BATCH"        env-default:"50"`
}

type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"      env:"OTEL_ENABLED"                env-default:"false"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"           env-default:"fulfillment-backend"`
	Environment string  `yaml:"environment"  env:"DEPLOY_ENV"                  env-default:"development"`
	Version     string  `yaml:"version"      env:"SERVICE_VERSION"`
	Endpoint    string  `yaml:"endpoint"     env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers     string  `yaml:"headers"      env:"OTEL_EXPORTER_OTLP_HEADERS"`
	Insecure    bool    `yaml:"insecure"     env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLER_RATIO"          env-default:"0.1"`
}

type LogConfig struct {
	Mode string `yaml:"mode" env:"LOG_MODE" env-default:"development"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
}

// LoadConfig reads CONFIG_PATH (fallback ./config.yaml) when present, else ENV + defaults only.
func LoadConfig() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", db.DriverPostgres, db.DriverSQLite, c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if strings.TrimSpace(c.Webhook.Secret) == "" && c.Database.Driver != db.DriverSQLite {
		errs = append(errs, errors.New("webhook.secret is required unless database.driver is sqlite"))
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	switch c.Reconcile.Mode {
	case services.OutputModeAppend, services.OutputModeUpsert:
	default:
		errs = append(errs, fmt.Errorf("reconcile.mode must be %q or %q, got %q", services.OutputModeAppend, services.OutputModeUpsert, c.Reconcile.Mode))
	}
	if c.Generation.Workers < 1 {
		errs = append(errs, errors.New("generation.workers must be at least 1"))
	}
	if c.Generation.QueueSize < 1 {
		errs = append(errs, errors.New("generation.queue_size must be at least 1"))
	}
	if c.Generation.LLMTimeout <= 0 {
		errs = append(errs, errors.New("generation.llm_timeout must be positive"))
	}
	if c.Generation.LeaseTTL < time.Second {
		errs = append(errs, errors.New("generation.lease_ttl must be at least 1s"))
	}
	if c.Reconcile.RepairInterval < time.Second {
		errs = append(errs, errors.New("reconcile.repair_interval must be at least 1s"))
	}
	return errors.Join(errs...)
}
