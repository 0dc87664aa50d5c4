// Package answer implements the retrieval and answer engine.
package answer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitechat/internal/metrics"
	"sitechat/internal/rag"
	"sitechat/internal/rerank"
)

// FallbackAnswer is returned when nothing relevant is indexed for a query.
// The generator is never invoked in that case.
const FallbackAnswer = "No relevant information was found for this question."

// RunLookup resolves a run id to its registry record.
type RunLookup interface {
	Get(id string) rag.Run
}

// Config tunes retrieval behavior.
type Config struct {
	// CandidateFactor over-fetches the similarity search by this multiple
	// of top_k to give the reranker material to work with.
	CandidateFactor int
	// MinCandidates is the lower bound on the over-fetched candidate set.
	MinCandidates int
	// DefaultTopK applies when the caller passes top_k <= 0.
	DefaultTopK int
	// ScoreFloor drops reranked results scoring below it; a result at
	// exactly the floor is kept. Zero disables the floor.
	ScoreFloor float64
}

// Engine answers natural-language queries scoped to one completed run.
type Engine struct {
	runs     RunLookup
	store    rag.VectorStore
	embedder rag.Embedder
	reranker rag.Reranker
	gen      rag.Generator
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Engine, applying defaults for zero config values.
func New(
	runs RunLookup,
	store rag.VectorStore,
	embedder rag.Embedder,
	reranker rag.Reranker,
	gen rag.Generator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = 4
	}
	if cfg.MinCandidates <= 0 {
		cfg.MinCandidates = 20
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		runs:     runs,
		store:    store,
		embedder: embedder,
		reranker: reranker,
		gen:      gen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Answer resolves the run, retrieves and reranks candidate passages, and
// generates a grounded answer with attributed sources.
func (e *Engine) Answer(ctx context.Context, runID, query string, topK int) (rag.Answer, error) {
	start := time.Now()
	ans, err := e.answer(ctx, runID, query, topK)
	switch {
	case err != nil:
		metrics.QueryObserved("error", time.Since(start))
	case ans.Answer == FallbackAnswer:
		metrics.QueryObserved("fallback", time.Since(start))
	default:
		metrics.QueryObserved("answered", time.Since(start))
	}
	return ans, err
}

func (e *Engine) answer(ctx context.Context, runID, query string, topK int) (rag.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return rag.Answer{}, &rag.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	run := e.runs.Get(runID)
	switch run.Status {
	case rag.StatusCompleted:
	case rag.StatusNotFound:
		return rag.Answer{}, &rag.NotFoundError{RunID: runID}
	default:
		return rag.Answer{}, &rag.NotFoundError{
			RunID:  runID,
			Reason: fmt.Sprintf("run is %s, not ready for queries", run.Status),
		}
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return rag.Answer{}, &rag.UpstreamError{Stage: "embedding", Err: err}
	}

	limit := e.cfg.CandidateFactor * topK
	if limit < e.cfg.MinCandidates {
		limit = e.cfg.MinCandidates
	}
	candidates, err := e.store.Search(ctx, run.Collection, vectors[0], limit)
	if err != nil {
		if errors.Is(err, rag.ErrCollectionNotFound) {
			return rag.Answer{}, &rag.NotFoundError{RunID: runID, Reason: "collection is missing"}
		}
		return rag.Answer{}, &rag.UpstreamError{Stage: "vector search", Err: err}
	}
	if len(candidates) == 0 {
		return rag.Answer{Answer: FallbackAnswer, Sources: []rag.Source{}}, nil
	}

	gated := rerank.Gate(candidates, rerank.ExtractTerms(query))
	ranked, err := e.rank(ctx, query, gated)
	if err != nil {
		return rag.Answer{}, err
	}

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	if e.cfg.ScoreFloor > 0 {
		ranked = aboveFloor(ranked, e.cfg.ScoreFloor)
	}
	if len(ranked) == 0 {
		return rag.Answer{Answer: FallbackAnswer, Sources: []rag.Source{}}, nil
	}

	text, err := e.gen.Generate(ctx, run.SiteName, query, ranked)
	if err != nil {
		return rag.Answer{}, &rag.UpstreamError{Stage: "generation", Err: err}
	}
	if text == "" {
		text = FallbackAnswer
	}

	e.logger.Debug("query answered",
		zap.String("run_id", runID),
		zap.Int("candidates", len(candidates)),
		zap.Int("passages", len(ranked)),
	)
	return rag.Answer{Answer: text, Sources: dedupeSources(ranked)}, nil
}

// rank rescores the candidates and re-sorts by reranked score descending.
// The sort is stable, so ties keep their original similarity order. When the
// reranker finds no signal at all, the vector-similarity ordering and scores
// are kept as-is.
func (e *Engine) rank(ctx context.Context, query string, candidates []rag.ScoredChunk) ([]rag.ScoredChunk, error) {
	scores, err := e.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, &rag.UpstreamError{Stage: "rerank", Err: err}
	}
	if len(scores) != len(candidates) {
		return nil, &rag.UpstreamError{
			Stage: "rerank",
			Err:   fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates)),
		}
	}

	signal := false
	for _, s := range scores {
		if s != 0 {
			signal = true
			break
		}
	}
	if !signal {
		out := make([]rag.ScoredChunk, len(candidates))
		copy(out, candidates)
		return out, nil
	}

	out := make([]rag.ScoredChunk, len(candidates))
	for i, c := range candidates {
		c.Score = scores[i]
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func aboveFloor(ranked []rag.ScoredChunk, floor float64) []rag.ScoredChunk {
	out := ranked[:0]
	for _, c := range ranked {
		if c.Score >= floor {
			out = append(out, c)
		}
	}
	return out
}

// dedupeSources collapses passages to one source per URL, keeping the first
// (highest-ranked) occurrence and preserving rank order.
func dedupeSources(ranked []rag.ScoredChunk) []rag.Source {
	seen := make(map[string]struct{}, len(ranked))
	sources := make([]rag.Source, 0, len(ranked))
	for _, c := range ranked {
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		sources = append(sources, rag.Source{URL: c.URL, Title: c.Title, Score: c.Score})
	}
	return sources
}
