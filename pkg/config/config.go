// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Sources, Orchestrator, etc.).
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig            `yaml:"server"`
	Postgres     PostgresConfig          `yaml:"postgres"`
	Kafka        KafkaConfig             `yaml:"kafka"`
	Redis        RedisConfig             `yaml:"redis"`
	Sources      map[string]SourceConfig `yaml:"sources"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
	Breaker      BreakerConfig           `yaml:"breaker"`
	Scheduler    SchedulerConfig         `yaml:"scheduler"`
	Retention    RetentionConfig         `yaml:"retention"`
	Logging      LoggingConfig           `yaml:"logging"`
	Metrics      MetricsConfig           `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the trigger API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the canonical
// article store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ArticleEvents string `yaml:"articleEvents"`
	RunMetrics    string `yaml:"runMetrics"`
}

// RedisConfig holds Redis connection parameters for the symbol registry.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"poolSize"`
	SymbolsKey string `yaml:"symbolsKey"`
}

// SourceConfig describes one third-party news source. APIKeyEnv names the
// environment variable holding the credential so secrets stay out of the
// config file.
type SourceConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"baseUrl"`
	APIKeyEnv string        `yaml:"apiKeyEnv"`
	Quota     int           `yaml:"quota"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey resolves the source credential from the environment.
func (s SourceConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// OrchestratorConfig controls the parallel fetch worker pool.
type OrchestratorConfig struct {
	Workers  int           `yaml:"workers"`
	Deadline time.Duration `yaml:"deadline"`
}

// BreakerConfig controls the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	FailureWindow    time.Duration `yaml:"failureWindow"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SchedulerConfig controls the in-process cron triggers.
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RunSpec    string `yaml:"runSpec"`
	ExpirySpec string `yaml:"expirySpec"`
}

// RetentionConfig controls how long canonical articles are kept.
type RetentionConfig struct {
	ArticleTTL time.Duration `yaml:"articleTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// EnabledSources returns the names of enabled sources in sorted order.
func (c *Config) EnabledSources() []string {
	names := make([]string, 0, len(c.Sources))
	for name, src := range c.Sources {
		if src.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "newsfuse",
			User:            "newsfuse",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				ArticleEvents: "article-events",
				RunMetrics:    "ingestion-run-metrics",
			},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			Password:   "",
			DB:         0,
			PoolSize:   10,
			SymbolsKey: "symbols:active",
		},
		Sources: map[string]SourceConfig{
			"finwire": {
				Enabled:   true,
				BaseURL:   "https://api.finwire.example.com",
				APIKeyEnv: "NW_FINWIRE_API_KEY",
				Quota:     60,
				Timeout:   10 * time.Second,
			},
			"marketaux": {
				Enabled:   true,
				BaseURL:   "https://api.marketaux.com",
				APIKeyEnv: "NW_MARKETAUX_API_KEY",
				Quota:     100,
				Timeout:   10 * time.Second,
			},
			"newsdata": {
				Enabled:   true,
				BaseURL:   "https://newsdata.io",
				APIKeyEnv: "NW_NEWSDATA_API_KEY",
				Quota:     30,
				Timeout:   10 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			Workers:  4,
			Deadline: 60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    5 * time.Minute,
			ResetTimeout:     30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			RunSpec:    "*/5 * * * *",
			ExpirySpec: "30 3 * * *",
		},
		Retention: RetentionConfig{
			ArticleTTL: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads NW_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NW_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("NW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NW_ORCHESTRATOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.Workers = n
		}
	}
	if v := os.Getenv("NW_ORCHESTRATOR_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Orchestrator.Deadline = d
		}
	}
	if v := os.Getenv("NW_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}
	if v := os.Getenv("NW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
