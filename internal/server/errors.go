package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinrag/clinrag-go/internal/extract"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// errorResponse is the JSON body for all error responses.
type errorResponse struct {
	// Error is the human-readable failure description.
	Error string `json:"error"`
}

// writeJSONError writes a JSON-formatted error response with the given
// status code. The message is JSON-encoded, so it may contain any characters.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// statusClientClosedRequest is nginx's non-standard status for requests
// abandoned by the client. The response is written for logging and metrics;
// the client that cancelled is no longer reading it.
const statusClientClosedRequest = 499

// statusOf maps a classified pipeline error to the HTTP status returned to
// the client. Upstream failures (embedding, index, generation) are reported
// as 502 since the fault lies with a backing service, not this server.
// Cancellation by the client is not a server fault and must not surface
// as 500.
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return statusClientClosedRequest
	}
	switch rag.KindOf(err) {
	case rag.KindConfiguration:
		return http.StatusBadRequest
	case rag.KindExtraction:
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusUnprocessableEntity
	case rag.KindTimeout:
		return http.StatusGatewayTimeout
	case rag.KindEmbedding, rag.KindIndexRead, rag.KindIndexWrite, rag.KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// outcomeOf collapses a pipeline result into the metric outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded), rag.KindOf(err) == rag.KindTimeout:
		return "timeout"
	default:
		return "error"
	}
}
