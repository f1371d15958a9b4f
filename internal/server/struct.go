package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinrag/clinrag-go/internal/answer"
	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/ingestion"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must exceed IngestTimeout so slow uploads are not cut off mid-response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds the end-to-end handling of one /api/query request.
	QueryTimeout time.Duration
	// IngestTimeout bounds the end-to-end handling of one ingestion request.
	IngestTimeout time.Duration
	// MaxUploadBytes caps the request body size on ingestion endpoints.
	// Defaults to 20 MiB if zero.
	MaxUploadBytes int64
	// DefaultTopK is the retrieval depth used when a query omits top_k.
	// Defaults to 3 if zero.
	DefaultTopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server's Prometheus metrics.
	// If nil, prometheus.DefaultRegisterer is used.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	// If nil, prometheus.DefaultGatherer is used.
	MetricsGatherer prometheus.Gatherer
}

// Querier answers one question against the indexed corpus.
// *answer.Pipeline satisfies it; tests inject a fake.
type Querier interface {
	// Answer runs the retrieval and generation pipeline for question,
	// retrieving up to topK chunks.
	Answer(ctx context.Context, question string, topK int) (*answer.Answer, error)
}

// Ingestor ingests one document end to end.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type Ingestor interface {
	// Ingest extracts, chunks, embeds, and indexes the document in req.
	Ingest(ctx context.Context, req ingestion.Request) (*ingestion.Summary, error)
}

// Catalog is the slice of catalog.Store the HTTP layer needs: listing,
// lookup, and removal of document records. *catalog.SQLiteCatalog satisfies it.
type Catalog interface {
	List(ctx context.Context) ([]catalog.Entry, error)
	Get(ctx context.Context, documentID string) (catalog.Entry, error)
	Remove(ctx context.Context, documentID string) error
}

// Index is the slice of the vector store the HTTP layer administers
// directly: whole-document deletion and chunk counting.
// *rag.QdrantStore satisfies it.
type Index interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (uint64, error)
}

// Deps bundles the collaborators the server dispatches requests to.
// All fields are required.
type Deps struct {
	// Querier answers /api/query requests.
	Querier Querier
	// Ingestor handles /api/ingest uploads.
	Ingestor Ingestor
	// Catalog backs the /api/documents listing and delete bookkeeping.
	Catalog Catalog
	// Index backs document deletion and the live chunk count.
	Index Index
}

// Server is the HTTP server that fronts the RAG pipelines.
type Server struct {
	// querier answers questions; set to the answer pipeline in production,
	// overridden by a fake in tests.
	querier Querier
	// ingestor ingests uploaded documents.
	ingestor Ingestor
	// catalog is the document catalog read by the management endpoints.
	catalog Catalog
	// index is the vector store slice used for deletes and counts.
	index Index
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// TopK is the number of chunks to retrieve. Zero means the server default.
	TopK int `json:"top_k"`
}

// sourceChunk is one retrieved chunk returned as answer provenance.
type sourceChunk struct {
	// Label is the citation marker used in the answer text (e.g. [1]).
	Label int `json:"label"`
	// Text is the chunk content placed in the model's context.
	Text string `json:"text"`
	// Score is the similarity score reported by the index.
	Score float32 `json:"score"`
	// DocumentID identifies the document the chunk came from.
	DocumentID string `json:"document_id"`
	// Source is the human-readable source name the document was ingested under.
	Source string `json:"source,omitempty"`
	// Page is the 1-based page the chunk starts on, for paginated formats.
	Page int `json:"page,omitempty"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Question is the question as answered, whitespace-trimmed.
	Question string `json:"question"`
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the chunks the answer drew on, in citation order.
	Sources []sourceChunk `json:"sources"`
	// ChunksRetrieved is the number of chunks placed in the model's context.
	ChunksRetrieved int `json:"chunks_retrieved"`
	// Insufficient reports that the knowledge base held nothing relevant.
	Insufficient bool `json:"insufficient"`
}

// ingestTextRequest is the JSON body for POST /api/ingest/text.
type ingestTextRequest struct {
	// Text is the raw text content to ingest.
	Text string `json:"text"`
	// Source is an optional source identifier (default: "manual").
	Source string `json:"source"`
}

// ingestResponse is the JSON response for both ingestion endpoints.
type ingestResponse struct {
	// Success is true when the document was fully indexed.
	Success bool `json:"success"`
	// Message is a human-readable confirmation.
	Message string `json:"message"`
	// ChunksProcessed is the number of chunks written to the index.
	ChunksProcessed int `json:"chunks_processed"`
	// Filename is the uploaded file name, for file uploads only.
	Filename string `json:"filename,omitempty"`
	// DocumentID is the content-addressed identifier assigned to the document.
	DocumentID string `json:"document_id,omitempty"`
	// Pages is the page count for paginated formats.
	Pages int `json:"pages,omitempty"`
}

// documentEntry is one catalog record in the GET /api/documents response.
type documentEntry struct {
	// DocumentID is the document's content-addressed identifier.
	DocumentID string `json:"document_id"`
	// Name is the source name the document was ingested under.
	Name string `json:"name"`
	// Format is the ingested format, "pdf" or "text".
	Format string `json:"format"`
	// Chunks is the number of chunks indexed for this document.
	Chunks int `json:"chunks"`
	// Pages is the page count for paginated formats.
	Pages int `json:"pages,omitempty"`
	// IngestedAt is when the document finished ingestion.
	IngestedAt time.Time `json:"ingested_at"`
}

// documentsResponse is the JSON response for GET /api/documents.
type documentsResponse struct {
	// Documents lists all catalog entries, most recently ingested first.
	Documents []documentEntry `json:"documents"`
	// TotalChunks is the live chunk count reported by the index, or null
	// when the index could not be reached.
	TotalChunks *uint64 `json:"total_chunks"`
}

// deleteResponse is the JSON response for DELETE /api/documents/{id}.
type deleteResponse struct {
	// Success is true when the document was removed from index and catalog.
	Success bool `json:"success"`
	// Message is a human-readable confirmation.
	Message string `json:"message"`
	// DocumentID is the identifier of the removed document.
	DocumentID string `json:"document_id"`
}
