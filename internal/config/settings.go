package config

import (
	"os"
	"strconv"
	"time"

	"github.com/clinrag/clinrag-go/internal/budget"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// Default values for the core configuration surface. Chunking and retrieval
// defaults match the values the service has always shipped with; changing
// chunk size or overlap between ingests changes chunk identity, so existing
// documents must be re-ingested afterwards.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100

	DefaultTopK = 3
	// MaxTopK bounds the per-request top_k accepted by the API.
	MaxTopK = 10

	DefaultEmbedBatchSize = 16
	DefaultEmbedWorkers   = 4

	DefaultMaxUploadMB = 20

	DefaultRateRPS   = 10
	DefaultRateBurst = 20

	DefaultQueryTimeout  = 60 * time.Second
	DefaultIngestTimeout = 5 * time.Minute
)

// Settings is the resolved core configuration: defaults overlaid by env vars
// (which Load has already seeded from YAML where applicable). Commands build
// one Settings value at startup, validate it, and wire it through.
type Settings struct {
	// ChunkSize is the chunk window size in characters.
	ChunkSize int
	// ChunkOverlap is the overlap between adjacent chunks in characters.
	ChunkOverlap int

	// TopK is the default number of chunks retrieved per query.
	TopK int
	// MinScore drops retrieved chunks scoring below this threshold.
	MinScore float32

	// ContextBudget is the maximum assembled context size.
	ContextBudget int
	// BudgetUnit measures the context budget: chars or tokens.
	BudgetUnit budget.Unit

	// EmbedBatchSize is the number of chunks embedded per provider call.
	EmbedBatchSize int
	// EmbedWorkers is the number of concurrent embedding calls.
	EmbedWorkers int
	// EmbedRPS throttles embedding calls per second. Zero disables pacing.
	EmbedRPS float64

	// EmbedRetry bounds retries of embedding calls.
	EmbedRetry rag.RetryPolicy
	// WriteRetry bounds retries of vector index writes.
	WriteRetry rag.RetryPolicy
	// ReadRetry bounds retries of vector index searches.
	ReadRetry rag.RetryPolicy
	// GenerateRetry bounds retries of chat model calls.
	GenerateRetry rag.RetryPolicy

	// QueryTimeout bounds a single question end to end.
	QueryTimeout time.Duration
	// IngestTimeout bounds a single document ingestion.
	IngestTimeout time.Duration

	// RateRPS is the sustained per-IP request rate on mutating endpoints.
	RateRPS float64
	// RateBurst is the per-IP burst allowance.
	RateBurst int

	// MaxUploadBytes caps the size of a single uploaded document.
	MaxUploadBytes int64

	// Qdrant holds the vector index connection settings.
	Qdrant QdrantSettings

	// CatalogDB overrides the catalog SQLite path. Empty means the default
	// path under ~/.clinrag.
	CatalogDB string
}

// QdrantSettings holds the resolved Qdrant connection settings.
type QdrantSettings struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	UseTLS     bool
	Metric     string
}

// FromEnv resolves Settings from environment variables, falling back to
// defaults for anything unset. Call Load first so YAML values are visible.
func FromEnv() *Settings {
	initial := envDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond)
	maxBackoff := envDuration("RETRY_MAX_BACKOFF", 8*time.Second)
	policy := func(attempts int) rag.RetryPolicy {
		return rag.RetryPolicy{
			MaxAttempts:     attempts,
			InitialInterval: initial,
			MaxInterval:     maxBackoff,
		}
	}

	return &Settings{
		ChunkSize:    envInt("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap: envInt("CHUNK_OVERLAP", DefaultChunkOverlap),

		TopK:     envInt("RETRIEVAL_TOP_K", DefaultTopK),
		MinScore: envFloat32("RETRIEVAL_MIN_SCORE", 0),

		ContextBudget: envInt("CONTEXT_BUDGET", budget.DefaultContextBudget),
		BudgetUnit:    budget.Unit(envStr("CONTEXT_BUDGET_UNIT", string(budget.UnitChars))),

		EmbedBatchSize: envInt("EMBED_BATCH_SIZE", DefaultEmbedBatchSize),
		EmbedWorkers:   envInt("EMBED_WORKERS", DefaultEmbedWorkers),
		EmbedRPS:       envFloat64("EMBED_RPS", 0),

		EmbedRetry:    policy(envInt("RETRY_EMBED_ATTEMPTS", 3)),
		WriteRetry:    policy(envInt("RETRY_WRITE_ATTEMPTS", 3)),
		ReadRetry:     policy(envInt("RETRY_READ_ATTEMPTS", 2)),
		GenerateRetry: policy(envInt("RETRY_GENERATE_ATTEMPTS", 3)),

		QueryTimeout:  envDuration("QUERY_TIMEOUT", DefaultQueryTimeout),
		IngestTimeout: envDuration("INGEST_TIMEOUT", DefaultIngestTimeout),

		RateRPS:   envFloat64("RATE_LIMIT_RPS", DefaultRateRPS),
		RateBurst: envInt("RATE_LIMIT_BURST", DefaultRateBurst),

		MaxUploadBytes: int64(envInt("INGEST_MAX_UPLOAD_MB", DefaultMaxUploadMB)) << 20,

		Qdrant: QdrantSettings{
			Host:       envStr("QDRANT_HOST", "localhost"),
			Port:       envInt("QDRANT_PORT", 6334),
			Collection: envStr("QDRANT_COLLECTION", "clinical-docs"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			Metric:     envStr("QDRANT_METRIC", rag.MetricCosine),
		},

		CatalogDB: os.Getenv("CLINRAG_CATALOG_DB"),
	}
}

// Validate checks the resolved settings. Violations are configuration
// errors and fatal at startup: serving with a broken retrieval or chunking
// configuration would corrupt the index or return nonsense answers.
func (s *Settings) Validate() error {
	if s.ChunkSize < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: CHUNK_SIZE must be at least 1, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 {
		return rag.Errorf(rag.KindConfiguration, "config: CHUNK_OVERLAP must not be negative, got %d", s.ChunkOverlap)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return rag.Errorf(rag.KindConfiguration, "config: CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", s.ChunkOverlap, s.ChunkSize)
	}
	if s.TopK < 1 || s.TopK > MaxTopK {
		return rag.Errorf(rag.KindConfiguration, "config: RETRIEVAL_TOP_K must be between 1 and %d, got %d", MaxTopK, s.TopK)
	}
	if s.ContextBudget < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: CONTEXT_BUDGET must be positive, got %d", s.ContextBudget)
	}
	if !s.BudgetUnit.Valid() {
		return rag.Errorf(rag.KindConfiguration, "config: CONTEXT_BUDGET_UNIT must be %q or %q, got %q", budget.UnitChars, budget.UnitTokens, s.BudgetUnit)
	}
	if s.EmbedBatchSize < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: EMBED_BATCH_SIZE must be at least 1, got %d", s.EmbedBatchSize)
	}
	if s.EmbedWorkers < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: EMBED_WORKERS must be at least 1, got %d", s.EmbedWorkers)
	}
	if s.EmbedRPS < 0 {
		return rag.Errorf(rag.KindConfiguration, "config: EMBED_RPS must not be negative, got %g", s.EmbedRPS)
	}
	for _, rp := range []struct {
		name   string
		policy rag.RetryPolicy
	}{
		{"RETRY_EMBED_ATTEMPTS", s.EmbedRetry},
		{"RETRY_WRITE_ATTEMPTS", s.WriteRetry},
		{"RETRY_READ_ATTEMPTS", s.ReadRetry},
		{"RETRY_GENERATE_ATTEMPTS", s.GenerateRetry},
	} {
		if rp.policy.MaxAttempts < 1 {
			return rag.Errorf(rag.KindConfiguration, "config: %s must be at least 1, got %d", rp.name, rp.policy.MaxAttempts)
		}
	}
	if s.QueryTimeout <= 0 {
		return rag.Errorf(rag.KindConfiguration, "config: QUERY_TIMEOUT must be positive, got %s", s.QueryTimeout)
	}
	if s.IngestTimeout <= 0 {
		return rag.Errorf(rag.KindConfiguration, "config: INGEST_TIMEOUT must be positive, got %s", s.IngestTimeout)
	}
	if s.RateRPS <= 0 {
		return rag.Errorf(rag.KindConfiguration, "config: RATE_LIMIT_RPS must be positive, got %g", s.RateRPS)
	}
	if s.RateBurst < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: RATE_LIMIT_BURST must be at least 1, got %d", s.RateBurst)
	}
	if s.MaxUploadBytes < 1 {
		return rag.Errorf(rag.KindConfiguration, "config: INGEST_MAX_UPLOAD_MB must be at least 1")
	}
	if s.Qdrant.Collection == "" {
		return rag.Errorf(rag.KindConfiguration, "config: QDRANT_COLLECTION must not be empty")
	}
	if s.Qdrant.Port < 1 || s.Qdrant.Port > 65535 {
		return rag.Errorf(rag.KindConfiguration, "config: QDRANT_PORT must be a valid TCP port, got %d", s.Qdrant.Port)
	}
	switch s.Qdrant.Metric {
	case rag.MetricCosine, rag.MetricDot, rag.MetricEuclid:
	default:
		return rag.Errorf(rag.KindConfiguration, "config: QDRANT_METRIC must be %s, %s or %s, got %q",
			rag.MetricCosine, rag.MetricDot, rag.MetricEuclid, s.Qdrant.Metric)
	}
	return nil
}

// envStr returns the named env var, or fallback if unset or empty.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the named env var parsed as int, or fallback if unset,
// empty, or not parseable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envFloat32 returns the named env var parsed as float32, or fallback.
func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// envFloat64 returns the named env var parsed as float64, or fallback.
func envFloat64(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration returns the named env var parsed as a Go duration, or fallback.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
