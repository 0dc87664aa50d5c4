// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Store     StoreConfig     `mapstructure:"store"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PipelineConfig governs run execution and queueing.
type PipelineConfig struct {
	Concurrency            int `mapstructure:"concurrency"`
	QueueDepth             int `mapstructure:"queue_depth"`
	MaxDepthLimit          int `mapstructure:"max_depth_limit"`
	MaxPagesLimit          int `mapstructure:"max_pages_limit"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
}

// ExtractorConfig governs the crawl side of a run.
type ExtractorConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DelayMs        int    `mapstructure:"delay_ms"`
}

// ChunkerConfig controls how page text is split for embedding.
type ChunkerConfig struct {
	SentencesPerChunk int `mapstructure:"sentences_per_chunk"`
	OverlapSentences  int `mapstructure:"overlap_sentences"`
	MinChunkLength    int `mapstructure:"min_chunk_length"`
}

// StoreConfig controls access to the vector database.
type StoreConfig struct {
	DSN                string `mapstructure:"dsn"`
	VectorDim          int    `mapstructure:"vector_dim"`
	MaxConns           int    `mapstructure:"max_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// LLMConfig configures the embedding and generation models.
type LLMConfig struct {
	BaseURL                string  `mapstructure:"base_url"`
	EmbedModel             string  `mapstructure:"embed_model"`
	EmbedTimeoutSeconds    int     `mapstructure:"embed_timeout_seconds"`
	GenerateModel          string  `mapstructure:"generate_model"`
	GenerateTimeoutSeconds int     `mapstructure:"generate_timeout_seconds"`
	Temperature            float64 `mapstructure:"temperature"`
	MaxTokens              int     `mapstructure:"max_tokens"`
}

// RetrievalConfig tunes the answer engine.
type RetrievalConfig struct {
	CandidateFactor int     `mapstructure:"candidate_factor"`
	MinCandidates   int     `mapstructure:"min_candidates"`
	FinalK          int     `mapstructure:"final_k"`
	ScoreFloor      float64 `mapstructure:"score_floor"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("pipeline.max_depth_limit", 3)
	v.SetDefault("pipeline.max_pages_limit", 500)
	v.SetDefault("pipeline.max_consecutive_failures", 5)
	v.SetDefault("extractor.user_agent", "sitechat-bot/0.1")
	v.SetDefault("extractor.timeout_seconds", 15)
	v.SetDefault("extractor.delay_ms", 0)
	v.SetDefault("chunker.sentences_per_chunk", 5)
	v.SetDefault("chunker.overlap_sentences", 1)
	v.SetDefault("chunker.min_chunk_length", 40)
	// Registered so AutomaticEnv surfaces SITECHAT_STORE_DSN into Unmarshal;
	// Validate rejects the empty default.
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.vector_dim", 768)
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.max_conn_lifetime_minutes", 30)
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.embed_model", "nomic-embed-text")
	v.SetDefault("llm.embed_timeout_seconds", 30)
	v.SetDefault("llm.generate_model", "mistral")
	v.SetDefault("llm.generate_timeout_seconds", 60)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("retrieval.candidate_factor", 4)
	v.SetDefault("retrieval.min_candidates", 20)
	v.SetDefault("retrieval.final_k", 5)
	v.SetDefault("retrieval.score_floor", 0.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.MaxPagesLimit <= 0 {
		return fmt.Errorf("pipeline.max_pages_limit must be > 0")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set")
	}
	if c.Store.VectorDim <= 0 {
		return fmt.Errorf("store.vector_dim must be > 0")
	}
	if c.Retrieval.FinalK <= 0 {
		return fmt.Errorf("retrieval.final_k must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ExtractorTimeout converts the extractor timeout config into a duration.
func (c Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Extractor.TimeoutSeconds) * time.Second
}
