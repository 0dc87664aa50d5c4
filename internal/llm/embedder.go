// Package llm wraps the embedding and answer-generation model clients.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
)

// EmbedderConfig configures the embedding model client.
type EmbedderConfig struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Embedder turns texts into vectors via an Ollama embedding model.
type Embedder struct {
	cfg EmbedderConfig
	llm *ollama.LLM
}

// NewEmbedder constructs an Embedder, applying defaults for zero values.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return &Embedder{cfg: cfg, llm: client}, nil
}

// Embed returns one vector per input text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors))
	}
	return vectors, nil
}
