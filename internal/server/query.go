package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// maxQuestionLen is the maximum accepted question length in bytes.
const maxQuestionLen = 2000

// maxTopK bounds the per-request top_k value.
const maxTopK = 10

// handleQuery handles POST /api/query. It validates the request, runs the
// question-answering pipeline under the configured timeout, and returns the
// answer together with its source chunks.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeJSONError(w, "question is required", http.StatusBadRequest)
		return
	}
	if len(question) > maxQuestionLen {
		writeJSONError(w, fmt.Sprintf("question must be at most %d characters", maxQuestionLen), http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 1 || topK > maxTopK {
		writeJSONError(w, fmt.Sprintf("top_k must be between 1 and %d", maxTopK), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	s.metrics.queriesInFlight.Inc()
	start := time.Now()
	ans, err := s.querier.Answer(ctx, question, topK)
	elapsed := time.Since(start)
	s.metrics.queriesInFlight.Dec()

	outcome := outcomeOf(err)
	if err == nil && ans.Insufficient {
		outcome = "insufficient"
	}
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if err != nil {
		log.Error("query failed",
			slog.String("kind", string(rag.KindOf(err))),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)
		writeJSONError(w, err.Error(), statusOf(err))
		return
	}

	resp := queryResponse{
		Question:        ans.Question,
		Answer:          ans.Text,
		Sources:         make([]sourceChunk, 0, len(ans.Citations)),
		ChunksRetrieved: ans.Retrieved,
		Insufficient:    ans.Insufficient,
	}
	for _, c := range ans.Citations {
		resp.Sources = append(resp.Sources, sourceChunk{
			Label:      c.Label,
			Text:       c.Text,
			Score:      c.Score,
			DocumentID: c.DocumentID,
			Source:     c.Source,
			Page:       c.Page,
		})
	}

	log.Info("query answered",
		slog.Int("top_k", topK),
		slog.Int("retrieved", ans.Retrieved),
		slog.Int("citations", len(ans.Citations)),
		slog.Bool("insufficient", ans.Insufficient),
		slog.Duration("duration", elapsed),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("query encode error", slog.Any("error", err))
	}
}
