// Package config provides configuration management for CodeChat.
// It supports loading configuration from environment variables, files
// (YAML/JSON), and defaults, with a clear precedence order:
// env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete CodeChat configuration.
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	VectorStore   VectorStoreConfig   `json:"vector_store" yaml:"vector_store"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Webhook       WebhookConfig       `json:"webhook" yaml:"webhook"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Archive       ArchiveConfig       `json:"archive" yaml:"archive"`
	LLM           LLMConfig           `json:"llm" yaml:"llm"`
	Repositories  []RepositoryConfig  `json:"repositories" yaml:"repositories"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// EmbeddingConfig pins the embedding provider, model, tokenizer encoding,
// and vector dimensionality. Dimensions and encoding are asserted at
// startup so every component agrees on them.
type EmbeddingConfig struct {
	Provider            string  `json:"provider" yaml:"provider"` // openai, mock
	Model               string  `json:"model" yaml:"model"`
	APIKey              string  `json:"-" yaml:"-"`
	Dimensions          int     `json:"dimensions" yaml:"dimensions"`
	Encoding            string  `json:"encoding" yaml:"encoding"` // BPE encoding name
	BatchSize           int     `json:"batch_size" yaml:"batch_size"`
	Hybrid              bool    `json:"hybrid" yaml:"hybrid"`
	HybridContentWeight float64 `json:"hybrid_content_weight" yaml:"hybrid_content_weight"`
	HybridSummaryWeight float64 `json:"hybrid_summary_weight" yaml:"hybrid_summary_weight"`
	HybridContextWeight float64 `json:"hybrid_context_weight" yaml:"hybrid_context_weight"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Backend string        `json:"backend" yaml:"backend"` // qdrant, sqlite, memory
	DSN     string        `json:"dsn" yaml:"dsn"`
	APIKey  string        `json:"-" yaml:"-"`
	Index   string        `json:"index" yaml:"index"` // collection prefix / sqlite path
	Region  string        `json:"region" yaml:"region"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// IngestConfig holds ingestion pipeline configuration.
type IngestConfig struct {
	MaxWorkers    int           `json:"max_workers" yaml:"max_workers"`
	MaxFileSize   int64         `json:"max_file_size" yaml:"max_file_size"`
	CloneTimeout  time.Duration `json:"clone_timeout" yaml:"clone_timeout"`
	OverlapTokens int           `json:"overlap_tokens" yaml:"overlap_tokens"`
	ErrorJournal  string        `json:"error_journal" yaml:"error_journal"`
	CloneBaseURL  string        `json:"clone_base_url" yaml:"clone_base_url"`
}

// WebhookConfig holds Git webhook configuration.
type WebhookConfig struct {
	Secret string `json:"-" yaml:"-"`
	Branch string `json:"branch" yaml:"branch"` // ref that triggers ingestion
}

// QueueConfig holds the durable queue and idempotency table configuration.
type QueueConfig struct {
	URL              string        `json:"url" yaml:"url"` // redis URL
	Stream           string        `json:"stream" yaml:"stream"`
	Group            string        `json:"group" yaml:"group"`
	IdempotencyTable string        `json:"idempotency_table" yaml:"idempotency_table"`
	IdempotencyTTL   time.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts"`
}

// ArchiveConfig holds object-store archival configuration.
type ArchiveConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LLMConfig holds the answer-composition model configuration.
type LLMConfig struct {
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"-" yaml:"-"`
}

// RepositoryConfig names one repository for bulk ingestion.
type RepositoryConfig struct {
	URL       string `json:"url" yaml:"url"`
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// SentryConfig holds Sentry error monitoring configuration.
type SentryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	DSN         string `json:"dsn" yaml:"dsn"`
	Environment string `json:"environment" yaml:"environment"`
}

// Default values
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8080
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultDimensions       = 1536
	DefaultEncoding         = "cl100k_base"
	DefaultBatchSize        = 96
	DefaultStoreBackend     = "memory"
	DefaultStoreTimeout     = 20 * time.Second
	DefaultMaxWorkers       = 4
	DefaultMaxFileSize      = 2 << 20 // 2 MiB
	DefaultCloneTimeout     = 10 * time.Minute
	DefaultBranch           = "refs/heads/main"
	DefaultQueueStream      = "codechat:ingest"
	DefaultQueueGroup       = "codechat-workers"
	DefaultIdempotencyTable = "codechat:deliveries"
	DefaultIdempotencyTTL   = 24 * time.Hour
	DefaultMaxAttempts      = 5
	DefaultErrorJournal     = ".codechat/vector_sync_errors.jsonl"
	DefaultCloneBaseURL     = "https://github.com"
	DefaultLLMModel         = "gpt-4o-mini"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsPath      = "/metrics"
)

// Valid values for validation
var (
	ValidLogLevels     = []string{"debug", "info", "warn", "error"}
	ValidLogFormats    = []string{"json", "text"}
	ValidStoreBackends = []string{"qdrant", "sqlite", "memory"}
	ValidProviders     = []string{"openai", "mock"}
)

// Load loads configuration from environment variables and optional config
// file. Precedence: env vars > config file > defaults.
func Load() (*Config, error) {
	cfg := defaults()

	if configFile := os.Getenv("CODECHAT_CONFIG_FILE"); configFile != "" {
		fileCfg, err := loadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config with all default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Embedding: EmbeddingConfig{
			Provider:            "openai",
			Model:               DefaultEmbeddingModel,
			Dimensions:          DefaultDimensions,
			Encoding:            DefaultEncoding,
			BatchSize:           DefaultBatchSize,
			HybridContentWeight: 0.5,
			HybridSummaryWeight: 0.3,
			HybridContextWeight: 0.2,
		},
		VectorStore: VectorStoreConfig{
			Backend: DefaultStoreBackend,
			Timeout: DefaultStoreTimeout,
		},
		Ingest: IngestConfig{
			MaxWorkers:   DefaultMaxWorkers,
			MaxFileSize:  DefaultMaxFileSize,
			CloneTimeout: DefaultCloneTimeout,
			ErrorJournal: DefaultErrorJournal,
			CloneBaseURL: DefaultCloneBaseURL,
		},
		Webhook: WebhookConfig{
			Branch: DefaultBranch,
		},
		Queue: QueueConfig{
			Stream:           DefaultQueueStream,
			Group:            DefaultQueueGroup,
			IdempotencyTable: DefaultIdempotencyTable,
			IdempotencyTTL:   DefaultIdempotencyTTL,
			MaxAttempts:      DefaultMaxAttempts,
		},
		LLM: LLMConfig{
			Model: DefaultLLMModel,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Path: DefaultMetricsPath},
			Tracing: TracingConfig{Endpoint: "localhost:4317", SampleRate: 0.1},
			Sentry:  SentryConfig{Environment: "development"},
		},
	}
}

// loadFile loads configuration from a YAML or JSON file.
func loadFile(path string) (*Config, error) {
	safePath := filepath.Clean(path)
	data, err := os.ReadFile(safePath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	return cfg, nil
}

// loadEnv loads configuration from environment variables. Secret-bearing
// variables use the deployment contract names; operational knobs use the
// CODECHAT_ prefix.
func loadEnv(cfg *Config) *Config {
	if host := os.Getenv("CODECHAT_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CODECHAT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Deployment contract
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if key := os.Getenv("VECTOR_STORE_API_KEY"); key != "" {
		cfg.VectorStore.APIKey = key
	}
	if index := os.Getenv("VECTOR_STORE_INDEX"); index != "" {
		cfg.VectorStore.Index = index
	}
	if region := os.Getenv("VECTOR_STORE_REGION"); region != "" {
		cfg.VectorStore.Region = region
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if queueURL := os.Getenv("QUEUE_URL"); queueURL != "" {
		cfg.Queue.URL = queueURL
	}
	if table := os.Getenv("IDEMPOTENCY_TABLE"); table != "" {
		cfg.Queue.IdempotencyTable = table
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET"); bucket != "" {
		cfg.Archive.Bucket = bucket
		cfg.Archive.Enabled = true
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	// Operational knobs
	if provider := os.Getenv("CODECHAT_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if model := os.Getenv("CODECHAT_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if dimensions := os.Getenv("CODECHAT_EMBEDDING_DIMENSIONS"); dimensions != "" {
		if dim, err := strconv.Atoi(dimensions); err == nil {
			cfg.Embedding.Dimensions = dim
		}
	}
	if encoding := os.Getenv("CODECHAT_TOKENIZER_ENCODING"); encoding != "" {
		cfg.Embedding.Encoding = encoding
	}
	if hybrid := os.Getenv("CODECHAT_EMBEDDING_HYBRID"); hybrid != "" {
		if enabled, err := strconv.ParseBool(hybrid); err == nil {
			cfg.Embedding.Hybrid = enabled
		}
	}
	if backend := os.Getenv("CODECHAT_VECTOR_STORE_BACKEND"); backend != "" {
		cfg.VectorStore.Backend = backend
	}
	if dsn := os.Getenv("CODECHAT_VECTOR_STORE_DSN"); dsn != "" {
		cfg.VectorStore.DSN = dsn
	}
	if workers := os.Getenv("CODECHAT_MAX_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Ingest.MaxWorkers = n
		}
	}
	if overlap := os.Getenv("CODECHAT_CHUNK_OVERLAP"); overlap != "" {
		if n, err := strconv.Atoi(overlap); err == nil {
			cfg.Ingest.OverlapTokens = n
		}
	}
	if branch := os.Getenv("CODECHAT_WEBHOOK_BRANCH"); branch != "" {
		cfg.Webhook.Branch = branch
	}
	if model := os.Getenv("CODECHAT_LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if level := os.Getenv("CODECHAT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("CODECHAT_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if enabled := os.Getenv("CODECHAT_METRICS_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.Observability.Metrics.Enabled = v
		}
	}
	if enabled := os.Getenv("CODECHAT_TRACING_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.Observability.Tracing.Enabled = v
		}
	}
	if endpoint := os.Getenv("CODECHAT_TRACING_ENDPOINT"); endpoint != "" {
		cfg.Observability.Tracing.Endpoint = endpoint
	}
	if dsn := os.Getenv("CODECHAT_SENTRY_DSN"); dsn != "" {
		cfg.Observability.Sentry.DSN = dsn
		cfg.Observability.Sentry.Enabled = true
	}

	return cfg
}

// merge merges two configs, preferring values from override when non-zero.
func merge(base, override *Config) *Config {
	result := *base

	if override.Server.Host != "" {
		result.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Embedding.Provider != "" {
		result.Embedding.Provider = override.Embedding.Provider
	}
	if override.Embedding.Model != "" {
		result.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.Dimensions != 0 {
		result.Embedding.Dimensions = override.Embedding.Dimensions
	}
	if override.Embedding.Encoding != "" {
		result.Embedding.Encoding = override.Embedding.Encoding
	}
	if override.Embedding.BatchSize != 0 {
		result.Embedding.BatchSize = override.Embedding.BatchSize
	}
	if override.Embedding.Hybrid {
		result.Embedding.Hybrid = true
	}
	if override.VectorStore.Backend != "" {
		result.VectorStore.Backend = override.VectorStore.Backend
	}
	if override.VectorStore.DSN != "" {
		result.VectorStore.DSN = override.VectorStore.DSN
	}
	if override.VectorStore.Index != "" {
		result.VectorStore.Index = override.VectorStore.Index
	}
	if override.VectorStore.Timeout != 0 {
		result.VectorStore.Timeout = override.VectorStore.Timeout
	}
	if override.Ingest.MaxWorkers != 0 {
		result.Ingest.MaxWorkers = override.Ingest.MaxWorkers
	}
	if override.Ingest.MaxFileSize != 0 {
		result.Ingest.MaxFileSize = override.Ingest.MaxFileSize
	}
	if override.Ingest.CloneTimeout != 0 {
		result.Ingest.CloneTimeout = override.Ingest.CloneTimeout
	}
	if override.Ingest.OverlapTokens != 0 {
		result.Ingest.OverlapTokens = override.Ingest.OverlapTokens
	}
	if override.Ingest.ErrorJournal != "" {
		result.Ingest.ErrorJournal = override.Ingest.ErrorJournal
	}
	if override.Ingest.CloneBaseURL != "" {
		result.Ingest.CloneBaseURL = override.Ingest.CloneBaseURL
	}
	if override.Webhook.Branch != "" {
		result.Webhook.Branch = override.Webhook.Branch
	}
	if override.Queue.URL != "" {
		result.Queue.URL = override.Queue.URL
	}
	if override.Queue.Stream != "" {
		result.Queue.Stream = override.Queue.Stream
	}
	if override.Queue.Group != "" {
		result.Queue.Group = override.Queue.Group
	}
	if override.Queue.IdempotencyTable != "" {
		result.Queue.IdempotencyTable = override.Queue.IdempotencyTable
	}
	if override.Queue.IdempotencyTTL != 0 {
		result.Queue.IdempotencyTTL = override.Queue.IdempotencyTTL
	}
	if override.Queue.MaxAttempts != 0 {
		result.Queue.MaxAttempts = override.Queue.MaxAttempts
	}
	if override.Archive.Bucket != "" {
		result.Archive = override.Archive
	}
	if override.LLM.Model != "" {
		result.LLM.Model = override.LLM.Model
	}
	if len(override.Repositories) > 0 {
		result.Repositories = override.Repositories
	}
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}
	if override.Observability.Metrics.Enabled {
		result.Observability.Metrics.Enabled = true
	}
	if override.Observability.Metrics.Path != "" {
		result.Observability.Metrics.Path = override.Observability.Metrics.Path
	}
	if override.Observability.Tracing.Enabled {
		result.Observability.Tracing.Enabled = true
	}
	if override.Observability.Tracing.Endpoint != "" {
		result.Observability.Tracing.Endpoint = override.Observability.Tracing.Endpoint
	}
	if override.Observability.Tracing.SampleRate != 0 {
		result.Observability.Tracing.SampleRate = override.Observability.Tracing.SampleRate
	}
	if override.Observability.Sentry.DSN != "" {
		result.Observability.Sentry = override.Observability.Sentry
	}

	return &result
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.Server.Port)
	}
	if !contains(ValidProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidProviders)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding dimensions must be positive: %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Encoding == "" {
		return fmt.Errorf("tokenizer encoding cannot be empty")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch size must be positive: %d", c.Embedding.BatchSize)
	}
	if !contains(ValidStoreBackends, c.VectorStore.Backend) {
		return fmt.Errorf("invalid vector store backend: %s (valid: %v)", c.VectorStore.Backend, ValidStoreBackends)
	}
	if c.VectorStore.Backend == "qdrant" && c.VectorStore.DSN == "" {
		return fmt.Errorf("vector store DSN required for qdrant backend")
	}
	if c.VectorStore.Backend == "sqlite" && c.VectorStore.Index == "" {
		return fmt.Errorf("vector store index (database path) required for sqlite backend")
	}
	if c.Ingest.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be positive: %d", c.Ingest.MaxWorkers)
	}
	if c.Ingest.OverlapTokens < 0 {
		return fmt.Errorf("chunk overlap cannot be negative: %d", c.Ingest.OverlapTokens)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be positive: %d", c.Queue.MaxAttempts)
	}
	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}
	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing enabled")
		}
		if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1: %f", c.Observability.Tracing.SampleRate)
		}
	}
	for i, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository %d has no name", i)
		}
	}
	return nil
}

// NamespaceOrDefault derives the vector store namespace for a repository. Falls back
// to the trailing path segment of the repository name.
func (r RepositoryConfig) NamespaceOrDefault() string {
	if r.Namespace != "" {
		return r.Namespace
	}
	parts := strings.Split(r.Name, "/")
	return parts[len(parts)-1]
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
