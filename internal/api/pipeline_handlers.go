package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sitechat/internal/rag"
)

type startPipelineRequest struct {
	StartURL string `json:"start_url"`
	MaxDepth *int   `json:"max_depth"`
	MaxPages *int   `json:"max_pages"`
}

func (s *Server) startPipeline(w http.ResponseWriter, r *http.Request) {
	var req startPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params := rag.RunParams{
		StartURL: req.StartURL,
		MaxDepth: valueOrDefault(req.MaxDepth, 1),
		MaxPages: valueOrDefault(req.MaxPages, 50),
	}

	run, err := s.registry.Create(params)
	if err != nil {
		s.writeError(w, mapError(err), err.Error())
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	item := rag.QueueItem{
		RunID:     run.ID,
		Params:    run.Params,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue run failed", zap.String("run_id", run.ID), zap.Error(err))
		// No executor will ever pick this run up; fail it so it stays
		// inspectable and deletable instead of running forever.
		if logErr := s.registry.AppendLog(run.ID, "pipeline failed: run queue is full"); logErr != nil {
			s.logger.Error("append log failed", zap.String("run_id", run.ID), zap.Error(logErr))
		}
		if setErr := s.registry.SetStatus(run.ID, rag.StatusFailed); setErr != nil {
			s.logger.Error("fail status update", zap.String("run_id", run.ID), zap.Error(setErr))
		}
		s.writeError(w, http.StatusServiceUnavailable, "pipeline queue is full")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  run.ID,
		"status":  "started",
		"message": fmt.Sprintf("Pipeline started for %s", run.SiteName),
	})
}

// getPipelineStatus always answers 200; an unknown id carries the not_found
// sentinel so pollers can keep a single code path.
func (s *Server) getPipelineStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run := s.registry.Get(runID)
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) listPipelines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"pipelines": s.registry.List()})
}

func (s *Server) getHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]rag.RunSummary{"history": s.registry.History()})
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.registry.Delete(r.Context(), runID); err != nil {
		s.writeError(w, mapError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Pipeline %s deleted", runID),
	})
}

func valueOrDefault(ptr *int, def int) int {
	if ptr == nil {
		return def
	}
	return *ptr
}
