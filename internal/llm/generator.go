package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"sitechat/internal/rag"
)

// GeneratorConfig configures the chat model used for answer generation.
type GeneratorConfig struct {
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Generator produces grounded answers from retrieved passages.
type Generator struct {
	cfg GeneratorConfig
	llm llms.Model
}

// NewGenerator constructs a Generator, applying defaults for zero values.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	return &Generator{cfg: cfg, llm: client}, nil
}

// Generate builds the grounding prompt from the passages and question and
// invokes the chat model. The answer speaks as the organization behind
// siteName and must stay within the provided context.
func (g *Generator) Generate(ctx context.Context, siteName, question string, passages []rag.ScoredChunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(siteName)),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(question, passages)),
	}

	resp, err := g.llm.GenerateContent(ctx, content,
		llms.WithTemperature(g.cfg.Temperature),
		llms.WithMaxTokens(g.cfg.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("generator returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func systemPrompt(siteName string) string {
	return fmt.Sprintf(
		"You are the voice of the organization represented by %s. "+
			"Whenever a user says 'you', it always refers to this organization, "+
			"not to any client or case study mentioned. "+
			"Respond in first-person plural. Only use the provided context; if unknown, say so.",
		siteName,
	)
}

func userPrompt(question string, passages []rag.ScoredChunk) string {
	var contextBlock strings.Builder
	for _, p := range passages {
		contextBlock.WriteString(fmt.Sprintf("Source: %s\n%s\n\n", p.URL, p.Text))
	}
	return fmt.Sprintf("Context:\n%s\nQuestion: %s\n\nAnswer:", contextBlock.String(), question)
}
