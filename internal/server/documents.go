package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/logging"
)

// handleDocuments handles GET /api/documents. It lists all catalog entries
// together with the live chunk count from the index.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	entries, err := s.catalog.List(r.Context())
	if err != nil {
		log.Error("document list failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := documentsResponse{Documents: make([]documentEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Documents = append(resp.Documents, documentEntry{
			DocumentID: e.DocumentID,
			Name:       e.Name,
			Format:     e.Format,
			Chunks:     e.Chunks,
			Pages:      e.Pages,
			IngestedAt: e.IngestedAt,
		})
	}

	// TotalChunks reports the live index count, not the catalog sum.
	// An unreachable index degrades the field to null rather than failing
	// the listing.
	if n, err := s.index.Count(r.Context()); err != nil {
		log.Warn("index count failed", slog.Any("error", err))
	} else {
		resp.TotalChunks = &n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("documents encode error", slog.Any("error", err))
	}
}

// handleDocumentDelete handles DELETE /api/documents/{id}. It removes the
// document's chunks from the index, then drops its catalog entry.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, "document id is required", http.StatusBadRequest)
		return
	}

	if _, err := s.catalog.Get(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeJSONError(w, fmt.Sprintf("document %s not found", id), http.StatusNotFound)
			return
		}
		log.Error("document lookup failed", slog.String("document_id", id), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Index first: a failed index delete leaves the catalog entry in place,
	// so the document stays visible and the delete can be retried.
	if err := s.index.DeleteByDocument(r.Context(), id); err != nil {
		log.Error("index delete failed", slog.String("document_id", id), slog.Any("error", err))
		writeJSONError(w, err.Error(), statusOf(err))
		return
	}
	if err := s.catalog.Remove(r.Context(), id); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		log.Error("catalog remove failed", slog.String("document_id", id), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Info("document deleted", slog.String("document_id", id))

	resp := deleteResponse{
		Success:    true,
		Message:    fmt.Sprintf("Deleted document %s", id),
		DocumentID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("delete encode error", slog.Any("error", err))
	}
}
