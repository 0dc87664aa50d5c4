// Package chunker splits page text into passage-sized chunks.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"sitechat/internal/rag"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// Config controls chunk sizing.
type Config struct {
	SentencesPerChunk int
	OverlapSentences  int
	MinChunkLength    int
}

// Chunker is a sentence-window splitter: fixed-size windows of sentences with
// a configurable overlap between consecutive chunks.
type Chunker struct {
	cfg Config
}

// New constructs a Chunker, applying defaults for zero values.
func New(cfg Config) *Chunker {
	if cfg.SentencesPerChunk <= 0 {
		cfg.SentencesPerChunk = 5
	}
	if cfg.OverlapSentences < 0 {
		cfg.OverlapSentences = 0
	}
	if cfg.OverlapSentences >= cfg.SentencesPerChunk {
		cfg.OverlapSentences = cfg.SentencesPerChunk - 1
	}
	if cfg.MinChunkLength <= 0 {
		cfg.MinChunkLength = 40
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits the page text into chunks with stable ids derived from the
// page URL and chunk position. Pages with no usable text yield no chunks.
func (c *Chunker) Chunk(page rag.Page) []rag.Chunk {
	sentences := sentenceRe.FindAllString(page.Text, -1)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(page.Text)
		if trimmed == "" {
			return nil
		}
		sentences = []string{trimmed}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	pageID := hashURL(page.URL)
	stride := c.cfg.SentencesPerChunk - c.cfg.OverlapSentences

	var chunks []rag.Chunk
	idx := 0
	for i := 0; i < len(sentences); i += stride {
		end := i + c.cfg.SentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		text := strings.Join(sentences[i:end], " ")
		if len(text) >= c.cfg.MinChunkLength || idx == 0 {
			chunks = append(chunks, rag.Chunk{
				ID:    fmt.Sprintf("%s_%d", pageID, idx),
				URL:   page.URL,
				Title: page.Title,
				Text:  text,
				Index: idx,
			})
			idx++
		}
		if end == len(sentences) {
			break
		}
	}
	return chunks
}

func hashURL(u string) string {
	h := sha1.Sum([]byte(u))
	return hex.EncodeToString(h[:8])
}
