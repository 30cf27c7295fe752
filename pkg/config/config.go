// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for the query
// service, the caches, the coalesce engine and the shard build pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Cache       CacheConfig       `yaml:"cache"`
	Coalesce    CoalesceConfig    `yaml:"coalesce"`
	PhraseRelev PhraseRelevConfig `yaml:"phraseRelev"`
	Build       BuildConfig       `yaml:"build"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// CacheConfig selects the cache backend and the packed files loaded at
// startup.
type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	Engine      string        `yaml:"engine"`
	DataDir     string        `yaml:"dataDir"`
	ShardCount  uint32        `yaml:"shardCount"`
	Compression string        `yaml:"compression"`
	Sources     []CacheSource `yaml:"sources"`
}

// CacheSource names one packed cache file.
type CacheSource struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// CoalesceConfig tunes result finalization and proximity scoring.
type CoalesceConfig struct {
	MaxGroups            int     `yaml:"maxGroups"`
	RelevCutoff          float64 `yaml:"relevCutoff"`
	LanguagePenalty      float64 `yaml:"languagePenalty"`
	DefaultRadius        float64 `yaml:"defaultRadius"`
	MaxCoversPerSubquery int     `yaml:"maxCoversPerSubquery"`
}

// PhraseRelevConfig tunes the phrase scorer.
type PhraseRelevConfig struct {
	TransposedCredit float64 `yaml:"transposedCredit"`
}

// BuildConfig controls the offline shard merge pipeline.
type BuildConfig struct {
	OutputDir    string        `yaml:"outputDir"`
	MergeType    string        `yaml:"mergeType"`
	Concurrency  int           `yaml:"concurrency"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	MergeTimeout time.Duration `yaml:"mergeTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ShardPacked string `yaml:"shardPacked"`
	ShardMerged string `yaml:"shardMerged"`
}

// RedisConfig holds Redis connection and result caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with local development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			Engine:      "badger",
			DataDir:     "data/cache",
			ShardCount:  16,
			Compression: "zstd",
		},
		Coalesce: CoalesceConfig{
			MaxGroups:            40,
			RelevCutoff:          0.25,
			LanguagePenalty:      0.96,
			DefaultRadius:        40,
			MaxCoversPerSubquery: 100000,
		},
		PhraseRelev: PhraseRelevConfig{
			TransposedCredit: 0.99,
		},
		Build: BuildConfig{
			OutputDir:    "data/shards",
			MergeType:    "concat",
			Concurrency:  4,
			RetryDelay:   200 * time.Millisecond,
			MaxAttempts:  5,
			MergeTimeout: 2 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "geocoder",
			User:            "geocoder",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "geocoder-shardmerge",
			Topics: KafkaTopics{
				ShardPacked: "shard.packed",
				ShardMerged: "shard.merged",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
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

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "persistent":
	default:
		return fmt.Errorf("cache.backend must be memory or persistent, got %q", c.Cache.Backend)
	}
	switch c.Cache.Engine {
	case "badger", "bolt":
	default:
		return fmt.Errorf("cache.engine must be badger or bolt, got %q", c.Cache.Engine)
	}
	switch c.Cache.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("cache.compression must be none, lz4 or zstd, got %q", c.Cache.Compression)
	}
	if c.Cache.ShardCount == 0 {
		return fmt.Errorf("cache.shardCount must be positive")
	}
	if c.Coalesce.LanguagePenalty <= 0 || c.Coalesce.LanguagePenalty > 1 {
		return fmt.Errorf("coalesce.languagePenalty must be in (0, 1], got %v", c.Coalesce.LanguagePenalty)
	}
	if c.Coalesce.MaxGroups <= 0 {
		return fmt.Errorf("coalesce.maxGroups must be positive")
	}
	switch c.Build.MergeType {
	case "concat", "freq", "":
	default:
		return fmt.Errorf("build.mergeType must be concat or freq, got %q", c.Build.MergeType)
	}
	return nil
}

// applyEnvOverrides reads GC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GC_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("GC_CACHE_ENGINE"); v != "" {
		cfg.Cache.Engine = v
	}
	if v := os.Getenv("GC_CACHE_DATA_DIR"); v != "" {
		cfg.Cache.DataDir = v
	}
	if v := os.Getenv("GC_CACHE_COMPRESSION"); v != "" {
		cfg.Cache.Compression = v
	}
	if v := os.Getenv("GC_CACHE_SHARD_COUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Cache.ShardCount = uint32(n)
		}
	}
	if v := os.Getenv("GC_COALESCE_MAX_GROUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coalesce.MaxGroups = n
		}
	}
	if v := os.Getenv("GC_BUILD_OUTPUT_DIR"); v != "" {
		cfg.Build.OutputDir = v
	}
	if v := os.Getenv("GC_BUILD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.Concurrency = n
		}
	}
	if v := os.Getenv("GC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("GC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("GC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("GC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("GC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("GC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GC_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("GC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
