package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinrag/clinrag-go/internal/extract"
	"github.com/clinrag/clinrag-go/internal/ingestion"
	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// defaultTextSource is the source name recorded for text ingested without
// an explicit source identifier.
const defaultTextSource = "manual"

// handleIngestText handles POST /api/ingest/text. It accepts raw text in a
// JSON body and runs it through the ingestion pipeline.
func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, "text is required", http.StatusBadRequest)
		return
	}
	source := req.Source
	if source == "" {
		source = defaultTextSource
	}

	s.runIngest(w, r,
		ingestion.Request{Name: source, Data: []byte(req.Text), Format: extract.FormatText},
		fmt.Sprintf("Successfully ingested text from %s", source),
		"",
	)
}

// handleIngestPDF handles POST /api/ingest/pdf. It accepts a multipart
// upload under the "file" field and runs it through the ingestion pipeline.
func (s *Server) handleIngestPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		writeJSONError(w, "Only PDF files are supported", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, "failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.runIngest(w, r,
		ingestion.Request{Name: header.Filename, Data: data, Format: extract.FormatPDF},
		fmt.Sprintf("Successfully ingested %s", header.Filename),
		header.Filename,
	)
}

// runIngest invokes the ingestion pipeline under the configured timeout and
// writes the JSON response. Shared by the text and PDF upload handlers.
func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, ingReq ingestion.Request, message, filename string) {
	log := logging.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	start := time.Now()
	sum, err := s.ingestor.Ingest(ctx, ingReq)
	elapsed := time.Since(start)

	outcome := outcomeOf(err)
	s.metrics.ingestRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.ingestDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if err != nil {
		log.Error("ingest failed",
			slog.String("source", ingReq.Name),
			slog.String("kind", string(rag.KindOf(err))),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)
		writeJSONError(w, err.Error(), statusOf(err))
		return
	}
	s.metrics.ingestChunksTotal.Add(float64(sum.Chunks))

	log.Info("document ingested",
		slog.String("document_id", sum.DocumentID),
		slog.String("source", sum.Name),
		slog.Int("chunks", sum.Chunks),
		slog.Duration("duration", elapsed),
	)

	resp := ingestResponse{
		Success:         true,
		Message:         message,
		ChunksProcessed: sum.Chunks,
		Filename:        filename,
		DocumentID:      sum.DocumentID,
		Pages:           sum.Pages,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ingest encode error", slog.Any("error", err))
	}
}
