// Package pipeline implements the run execution loop.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/metrics"
	"sitechat/internal/rag"
)

// RunRegistry is the slice of the registry an executor writes through. The
// executor is the sole writer for every run it owns.
type RunRegistry interface {
	Get(id string) rag.Run
	AppendLog(id, line string) error
	AdvanceProgress(id string, step int, name string) error
	SetStatus(id string, status rag.RunStatus) error
}

// Config controls Executor behavior.
type Config struct {
	// MaxConsecutiveFailures escalates the run to failed once this many
	// pages fail back to back.
	MaxConsecutiveFailures int
}

// Executor consumes queued runs and drives each one's three stages to
// completion or failure, reporting into the registry as it proceeds.
type Executor struct {
	queue     rag.Queue
	registry  RunRegistry
	store     rag.VectorStore
	extractor rag.Extractor
	chunker   rag.Chunker
	embedder  rag.Embedder
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Executor.
func New(
	queue rag.Queue,
	registry RunRegistry,
	store rag.VectorStore,
	extractor rag.Extractor,
	chunker rag.Chunker,
	embedder rag.Embedder,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		queue:     queue,
		registry:  registry,
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queued runs until the context finishes.
func (ex *Executor) Run(ctx context.Context) {
	for {
		item, err := ex.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ex.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		ex.processRun(ctx, item)
	}
}

func (ex *Executor) processRun(ctx context.Context, item rag.QueueItem) {
	id := item.RunID
	run := ex.registry.Get(id)
	if run.Status != rag.StatusRunning {
		ex.logger.Warn("dequeued run is not runnable",
			zap.String("run_id", id),
			zap.String("status", string(run.Status)),
		)
		return
	}

	// The run context ends with this run, so an early failure unblocks the
	// extractor's producer goroutine instead of leaking it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stage 1: initialize.
	ex.advance(id, rag.StageInitialize)
	ex.logf(id, "starting pipeline | run_id: %s", id)
	ex.logf(id, "site_name: %s", run.SiteName)
	ex.logf(id, "start_url: %s", run.Params.StartURL)
	ex.logf(id, "max_depth: %d", run.Params.MaxDepth)
	ex.logf(id, "max_pages: %d", run.Params.MaxPages)

	// Stage 2: storage setup.
	ex.advance(id, rag.StageStorageSetup)
	ex.logf(id, "setting up vector collection %s", run.Collection)
	if err := ex.store.EnsureCollection(runCtx, run.Collection); err != nil {
		// Leave no partial collection bound to the failed run.
		if dropErr := ex.store.DropCollection(runCtx, run.Collection); dropErr != nil {
			ex.logger.Warn("cleanup after setup failure",
				zap.String("run_id", id),
				zap.Error(dropErr),
			)
		}
		ex.fail(id, fmt.Errorf("storage setup: %w", err))
		return
	}
	ex.logf(id, "vector collection ready")

	// Stage 3: crawl and index.
	ex.advance(id, rag.StageCrawlIndex)
	indexed, err := ex.crawlAndIndex(runCtx, run)
	if err != nil {
		ex.fail(id, err)
		return
	}
	if ctx.Err() != nil {
		ex.fail(id, fmt.Errorf("interrupted by shutdown: %w", ctx.Err()))
		return
	}

	if err := ex.registry.AdvanceProgress(id, rag.TotalSteps, "completed"); err != nil {
		ex.logger.Error("final progress update failed", zap.String("run_id", id), zap.Error(err))
	}
	if err := ex.registry.SetStatus(id, rag.StatusCompleted); err != nil {
		ex.logger.Error("final status update failed", zap.String("run_id", id), zap.Error(err))
		return
	}
	ex.logf(id, "pipeline completed | run_id: %s | pages indexed: %d", id, indexed)
	metrics.RunFinished(string(rag.StatusCompleted))
	ex.logger.Info("run completed", zap.String("run_id", id), zap.Int("pages_indexed", indexed))
}

// crawlAndIndex drains the extractor stream, indexing each page. A page
// failure is recorded and skipped; consecutive failures beyond the configured
// threshold escalate to a fatal pipeline error.
func (ex *Executor) crawlAndIndex(ctx context.Context, run rag.Run) (int, error) {
	pages, err := ex.extractor.Pages(ctx, run.Params)
	if err != nil {
		return 0, fmt.Errorf("start extraction: %w", err)
	}

	indexed := 0
	failed := 0
	consecutive := 0
	for res := range pages {
		if ctx.Err() != nil {
			return indexed, fmt.Errorf("interrupted by shutdown: %w", ctx.Err())
		}
		pageErr := res.Err
		if pageErr == nil {
			var chunks int
			chunks, pageErr = ex.indexPage(ctx, run.Collection, res.Page)
			if pageErr == nil {
				indexed++
				consecutive = 0
				metrics.PageIndexed(chunks)
				ex.logf(run.ID, "indexed %s (%d chunks)", res.Page.URL, chunks)
				continue
			}
		}
		failed++
		consecutive++
		ex.logf(run.ID, "page failed: %v", pageErr)
		if consecutive > ex.cfg.MaxConsecutiveFailures {
			return indexed, &rag.FatalPipelineError{
				Reason: fmt.Sprintf("%d consecutive page failures", consecutive),
				Err:    pageErr,
			}
		}
	}

	if indexed == 0 && failed > 0 {
		return 0, &rag.FatalPipelineError{Reason: "no pages were indexed"}
	}
	if indexed == 0 {
		ex.logf(run.ID, "no pages extracted from %s", run.Params.StartURL)
	}
	return indexed, nil
}

// indexPage chunks one page, embeds the chunks, and upserts them into the
// run's collection. Pages with no usable text index zero chunks.
func (ex *Executor) indexPage(ctx context.Context, collection string, page rag.Page) (int, error) {
	chunks := ex.chunker.Chunk(page)
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ex.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", page.URL, err)
	}
	records := make([]rag.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = rag.ChunkRecord{Chunk: c, Embedding: vectors[i]}
	}
	if err := ex.store.Upsert(ctx, collection, records); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", page.URL, err)
	}
	return len(chunks), nil
}

// fail marks the run failed and records the error as its final log line. The
// failed run stays inspectable; it is never deleted here.
func (ex *Executor) fail(id string, cause error) {
	ex.logf(id, "pipeline failed: %v", cause)
	if err := ex.registry.SetStatus(id, rag.StatusFailed); err != nil {
		ex.logger.Error("fail status update", zap.String("run_id", id), zap.Error(err))
	}
	metrics.RunFinished(string(rag.StatusFailed))
	ex.logger.Error("run failed", zap.String("run_id", id), zap.Error(cause))
}

func (ex *Executor) advance(id string, stage rag.Stage) {
	if err := ex.registry.AdvanceProgress(id, stage.Step(), stage.Name()); err != nil {
		ex.logger.Error("progress update failed",
			zap.String("run_id", id),
			zap.Int("step", stage.Step()),
			zap.Error(err),
		)
	}
}

func (ex *Executor) logf(id, format string, args ...any) {
	if err := ex.registry.AppendLog(id, fmt.Sprintf(format, args...)); err != nil {
		ex.logger.Error("append log failed", zap.String("run_id", id), zap.Error(err))
	}
}
