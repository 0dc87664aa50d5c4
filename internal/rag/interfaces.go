package rag

import (
	"context"
	"time"
)

// Extractor produces a lazy, finite stream of same-site pages starting from
// params.StartURL, breadth-first up to MaxDepth/MaxPages. The channel is
// closed when the crawl finishes; fetch failures arrive as PageResults with
// Err set.
type Extractor interface {
	Pages(ctx context.Context, params RunParams) (<-chan PageResult, error)
}

// Chunker splits a page's text into passage-sized chunks with stable ids.
type Chunker interface {
	Chunk(page Page) []Chunk
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker rescores candidates against the raw query text. The returned
// slice is parallel to candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]float64, error)
}

// Generator produces the grounded answer text from the assembled prompt
// context and the user question.
type Generator interface {
	Generate(ctx context.Context, siteName, question string, passages []ScoredChunk) (string, error)
}

// VectorStore provides per-collection persistence and similarity search.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, records []ChunkRecord) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredChunk, error)
	ListCollections(ctx context.Context) ([]string, error)
}

// Queue provides enqueue/dequeue semantics for accepted runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RunIDGenerator produces sortable, time-derived run identifiers.
type RunIDGenerator interface {
	NewRunID() string
}
