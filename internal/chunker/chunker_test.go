package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sitechat/internal/rag"
)

func TestChunk_EmptyPageYieldsNothing(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	require.Empty(t, c.Chunk(rag.Page{URL: "https://example.com", Text: "   "}))
}

func TestChunk_TextWithoutSentencePunctuation(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	chunks := c.Chunk(rag.Page{
		URL:  "https://example.com/about",
		Text: "A heading with no terminal punctuation",
	})

	require.Len(t, chunks, 1)
	require.Equal(t, "A heading with no terminal punctuation", chunks[0].Text)
	require.Equal(t, 0, chunks[0].Index)
}

func TestChunk_SlidingWindowWithOverlap(t *testing.T) {
	t.Parallel()

	c := New(Config{SentencesPerChunk: 2, OverlapSentences: 1, MinChunkLength: 1})
	chunks := c.Chunk(rag.Page{
		URL:   "https://example.com/docs",
		Title: "Docs",
		Text:  "First sentence here. Second sentence here. Third sentence here.",
	})

	require.Len(t, chunks, 2)
	require.Equal(t, "First sentence here. Second sentence here.", chunks[0].Text)
	require.Equal(t, "Second sentence here. Third sentence here.", chunks[1].Text)
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
		require.Equal(t, "https://example.com/docs", ch.URL)
		require.Equal(t, "Docs", ch.Title)
	}
}

func TestChunk_StableIDsPerURL(t *testing.T) {
	t.Parallel()

	c := New(Config{SentencesPerChunk: 1, MinChunkLength: 1})
	page := rag.Page{URL: "https://example.com/x", Text: "One two three. Four five six."}

	first := c.Chunk(page)
	second := c.Chunk(page)

	require.Len(t, first, 2)
	require.Equal(t, first[0].ID, second[0].ID)
	require.True(t, strings.HasSuffix(first[0].ID, "_0"))
	require.True(t, strings.HasSuffix(first[1].ID, "_1"))
	require.NotEqual(t, first[0].ID, first[1].ID)
}

func TestChunk_ShortTailFilteredByMinLength(t *testing.T) {
	t.Parallel()

	c := New(Config{SentencesPerChunk: 1, MinChunkLength: 30})
	chunks := c.Chunk(rag.Page{
		URL:  "https://example.com/y",
		Text: "This opening sentence is comfortably long enough. No.",
	})

	require.Len(t, chunks, 1)
	require.Equal(t, "This opening sentence is comfortably long enough.", chunks[0].Text)
}
