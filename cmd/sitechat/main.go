// Package main wires together the sitechat service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sitechat/internal/answer"
	"sitechat/internal/api"
	"sitechat/internal/chunker"
	"sitechat/internal/clock/system"
	"sitechat/internal/config"
	"sitechat/internal/dispatcher"
	"sitechat/internal/extractor"
	"sitechat/internal/llm"
	"sitechat/internal/logging"
	"sitechat/internal/metrics"
	"sitechat/internal/pipeline"
	queueMemory "sitechat/internal/queue/memory"
	"sitechat/internal/registry"
	"sitechat/internal/rerank"
	"sitechat/internal/runid"
	"sitechat/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectorStore, err := store.New(ctx, store.Config{
		DSN:             cfg.Store.DSN,
		VectorDim:       cfg.Store.VectorDim,
		MaxConns:        int32(cfg.Store.MaxConns),
		MaxConnLifetime: time.Duration(cfg.Store.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		logger.Fatal("vector store init failed", zap.Error(err))
	}
	defer vectorStore.Close()

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:   cfg.LLM.EmbedModel,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: time.Duration(cfg.LLM.EmbedTimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("embedder init failed", zap.Error(err))
	}
	generator, err := llm.NewGenerator(llm.GeneratorConfig{
		Model:       cfg.LLM.GenerateModel,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.GenerateTimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("generator init failed", zap.Error(err))
	}

	clock := system.New()
	idGen := runid.New(clock)
	reg := registry.New(vectorStore, idGen, clock, registry.Limits{
		MaxDepth: cfg.Pipeline.MaxDepthLimit,
		MaxPages: cfg.Pipeline.MaxPagesLimit,
	}, logger.Named("registry"))
	queue := queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	chunk := chunker.New(chunker.Config{
		SentencesPerChunk: cfg.Chunker.SentencesPerChunk,
		OverlapSentences:  cfg.Chunker.OverlapSentences,
		MinChunkLength:    cfg.Chunker.MinChunkLength,
	})
	extract := extractor.New(extractor.Config{
		UserAgent: cfg.Extractor.UserAgent,
		Timeout:   cfg.ExtractorTimeout(),
		Delay:     time.Duration(cfg.Extractor.DelayMs) * time.Millisecond,
	}, logger.Named("extractor"))

	var executors []*pipeline.Executor
	for i := 0; i < cfg.Pipeline.Concurrency; i++ {
		executors = append(executors, pipeline.New(
			queue,
			reg,
			vectorStore,
			extract,
			chunk,
			embedder,
			pipeline.Config{MaxConsecutiveFailures: cfg.Pipeline.MaxConsecutiveFailures},
			logger.Named("executor").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, executors)

	engine := answer.New(
		reg,
		vectorStore,
		embedder,
		rerank.NewOverlap(),
		generator,
		answer.Config{
			CandidateFactor: cfg.Retrieval.CandidateFactor,
			MinCandidates:   cfg.Retrieval.MinCandidates,
			DefaultTopK:     cfg.Retrieval.FinalK,
			ScoreFloor:      cfg.Retrieval.ScoreFloor,
		},
		logger.Named("answer"),
	)

	apiServer := api.NewServer(reg, dispatch, engine, vectorStore, true, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("sitechat starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("executors", cfg.Pipeline.Concurrency),
		zap.String("embed_model", cfg.LLM.EmbedModel),
		zap.String("generate_model", cfg.LLM.GenerateModel),
	)

	go func() {
		logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}
