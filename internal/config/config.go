// Package config loads the on-disk configuration for a ctxcore agent
// process: store budgets, overlay defaults, retrieval and persistence
// backend selection, batch cadence, and provider credentials.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig controls the message store's virtual-memory behavior
// (working-buffer budget and high/low watermarks).
type StoreConfig struct {
	ContextWindowTokens int     `yaml:"context_window_tokens"`
	HighWatermark       float64 `yaml:"high_watermark"` // fraction of working budget, triggers compaction
	LowWatermark        float64 `yaml:"low_watermark"`  // fraction of working budget, compaction target
	MinKeepLastMessages int     `yaml:"min_keep_last_messages"`
	MaxSummaryChunkTok  int     `yaml:"max_summary_chunk_tokens"`
}

// OverlayConfig controls the sensory overlay's default channel text and
// grid width.
type OverlayConfig struct {
	Width          int               `yaml:"width"`
	DefaultChannel map[string]string `yaml:"default_channel"`
}

// RetrievalConfig selects and configures the semantic retrieval backend.
type RetrievalConfig struct {
	IndexBackend   string `yaml:"index_backend"` // "file" | "qdrant"
	QdrantDSN      string `yaml:"qdrant_dsn,omitempty"`
	QdrantCollection string `yaml:"qdrant_collection,omitempty"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`
	TopK           int    `yaml:"top_k"`
	DedupThreshold float64 `yaml:"dedup_threshold"` // not read by internal/retrieval, whose Search uses a fixed dedupe threshold
	BatchInterval  string `yaml:"batch_interval"` // duration string, e.g. "6h"
	BatchBatchSize int    `yaml:"batch_size"`
}

// PersistenceConfig selects the page-archival backend.
type PersistenceConfig struct {
	Backend   string `yaml:"backend"` // "file" | "s3" | "postgres"
	SessionDir string `yaml:"session_dir"`
	S3Bucket  string `yaml:"s3_bucket,omitempty"`
	S3Prefix  string `yaml:"s3_prefix,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// BusConfig selects the lifecycle event bus.
type BusConfig struct {
	Backend       string `yaml:"backend"` // "inprocess" | "kafka"
	KafkaBrokers  []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic    string `yaml:"kafka_topic,omitempty"`
}

// ObsConfig configures OpenTelemetry tracing and zerolog output.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	LogPath        string `yaml:"log_path,omitempty"`
	LogLevel       string `yaml:"log_level"`
}

// AnthropicPromptCacheConfig mirrors the cache-control scoping knobs the
// Anthropic adapter exposes.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic ChatDriver adapter.
type AnthropicConfig struct {
	APIKey      string                      `yaml:"api_key"`
	BaseURL     string                      `yaml:"base_url,omitempty"`
	Model       string                      `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig  `yaml:"prompt_cache"`
	ExtraParams map[string]any              `yaml:"extra_params,omitempty"`
}

// OpenAIConfig configures the OpenAI ChatDriver adapter.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// GoogleConfig configures the Google (Gemini) ChatDriver adapter.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	Project string `yaml:"project,omitempty"`
	Model   string `yaml:"model"`
}

// EmbeddingConfig configures the HTTP embedding adapter, which speaks an
// OpenAI-compatible POST /embeddings protocol.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	APIHeader string `yaml:"api_header,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// ProvidersConfig names the active chat/summarizer/embedding providers
// and holds their per-provider credentials.
type ProvidersConfig struct {
	ChatProvider       string         `yaml:"chat_provider"` // "anthropic" | "openai" | "google"
	SummarizerProvider string         `yaml:"summarizer_provider"`
	EmbeddingProvider  string         `yaml:"embedding_provider"` // "http" | "deterministic"
	Anthropic          AnthropicConfig `yaml:"anthropic"`
	OpenAI             OpenAIConfig    `yaml:"openai"`
	Google             GoogleConfig    `yaml:"google"`
	Embedding          EmbeddingConfig `yaml:"embedding"`
}

// Config is the root configuration document.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Overlay     OverlayConfig     `yaml:"overlay"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Bus         BusConfig         `yaml:"bus"`
	Observability ObsConfig       `yaml:"observability"`
	Providers   ProvidersConfig   `yaml:"providers"`
}

// Defaults returns a Config populated with the spec's default budgets.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			ContextWindowTokens: 200_000,
			HighWatermark:       0.85,
			LowWatermark:        0.60,
			MinKeepLastMessages: 4,
			MaxSummaryChunkTok:  4000,
		},
		Overlay: OverlayConfig{
			Width: 82,
		},
		Retrieval: RetrievalConfig{
			IndexBackend:   "file",
			TopK:           8,
			DedupThreshold: 0.97,
			BatchInterval:  "6h",
			BatchBatchSize: 32,
		},
		Persistence: PersistenceConfig{
			Backend:    "file",
			SessionDir: "./sessions",
		},
		Bus: BusConfig{
			Backend: "inprocess",
		},
		Observability: ObsConfig{
			ServiceName:    "ctxcore-agent",
			ServiceVersion: "dev",
			Environment:    "development",
			LogLevel:       "info",
		},
	}
}

// Load reads a YAML config file at path, overlaying it on Defaults(), and
// applies a .env file at envPath if present (missing .env is not an
// error). Environment variables referenced as ${VAR} in the YAML are not
// expanded; secrets should be placed directly in the .env-sourced process
// environment and referenced by the caller after Load returns.
func Load(path string, envPath string) (Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveSecrets fills credential fields from environment variables when
// the YAML left them blank, matching the teacher's convention of keeping
// API keys out of version-controlled config files.
func (c *Config) ResolveSecrets() {
	if c.Providers.Anthropic.APIKey == "" {
		c.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Providers.OpenAI.APIKey == "" {
		c.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Providers.Google.APIKey == "" {
		c.Providers.Google.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}
