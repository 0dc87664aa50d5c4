package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type answerRequest struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *Server) postAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	start := time.Now()
	ans, err := s.answerer.Answer(r.Context(), req.RunID, req.Question, req.TopK)
	if err != nil {
		s.logger.Warn("answer failed",
			zap.String("run_id", req.RunID),
			zap.Error(err),
		)
		s.writeError(w, mapError(err), err.Error())
		return
	}
	s.logger.Info("answer served",
		zap.String("run_id", req.RunID),
		zap.Int("sources", len(ans.Sources)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	s.writeJSON(w, http.StatusOK, ans)
}
