package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitechat/internal/rag"
)

func TestSystemPrompt_SpeaksAsTheSite(t *testing.T) {
	t.Parallel()

	p := systemPrompt("example.com")
	require.Contains(t, p, "the organization represented by example.com")
	require.Contains(t, p, "first-person plural")
	require.Contains(t, p, "Only use the provided context")
}

func TestUserPrompt_ListsSourcesBeforeQuestion(t *testing.T) {
	t.Parallel()

	passages := []rag.ScoredChunk{
		{Chunk: rag.Chunk{URL: "https://example.com/a", Text: "First passage."}},
		{Chunk: rag.Chunk{URL: "https://example.com/b", Text: "Second passage."}},
	}
	p := userPrompt("Do you ship abroad?", passages)

	require.Contains(t, p, "Source: https://example.com/a\nFirst passage.")
	require.Contains(t, p, "Source: https://example.com/b\nSecond passage.")
	require.Contains(t, p, "Question: Do you ship abroad?")
	require.True(t, len(p) > 0 && p[len(p)-7:] == "Answer:")
}

func TestNewGenerator_AppliesDefaults(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(GeneratorConfig{})
	require.NoError(t, err)
	require.Equal(t, "mistral", g.cfg.Model)
	require.Equal(t, 600, g.cfg.MaxTokens)
	require.Equal(t, 60*time.Second, g.cfg.Timeout)
}

func TestNewEmbedder_AppliesDefaults(t *testing.T) {
	t.Parallel()

	e, err := NewEmbedder(EmbedderConfig{})
	require.NoError(t, err)
	require.Equal(t, "nomic-embed-text", e.cfg.Model)
	require.Equal(t, "http://localhost:11434", e.cfg.BaseURL)
	require.Equal(t, 30*time.Second, e.cfg.Timeout)
}
