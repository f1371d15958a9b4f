package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Similarity metrics accepted by QdrantConfig.Metric. Ingestion and query
// must run against the same metric; ValidateSchema enforces that at
// startup against whatever the live collection was created with.
const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
	MetricEuclid = "euclid"
)

// QdrantConfig holds connection and schema parameters for the Qdrant
// vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection holding this service's chunks.
	Collection string

	// VectorSize is the dimensionality of stored embeddings. Must match
	// the embedder's output width.
	VectorSize uint64

	// Metric is the similarity metric: cosine, dot or euclid
	// (default: cosine).
	Metric string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantStore connects to Qdrant, creates the collection if missing and
// verifies that an existing collection matches the configured dimension
// and metric. A mismatch is a configuration error: writing vectors of one
// shape into a collection built for another silently corrupts retrieval.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if _, err := distanceOf(cfg.Metric); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, Errorf(KindConfiguration, "qdrant: collection name must not be empty")
	}
	if cfg.VectorSize == 0 {
		return nil, Errorf(KindConfiguration, "qdrant: vector size must be positive")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, Errorf(KindConfiguration, "qdrant: creating client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if err := store.validateSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection if it does not already exist,
// with the configured dimension and metric.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return grpcError(KindIndexRead, "qdrant: checking collection existence", err)
	}
	if exists {
		return nil
	}

	distance, _ := distanceOf(s.cfg.Metric)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: distance,
		}),
	})
	if err != nil {
		return grpcError(KindIndexWrite, fmt.Sprintf("qdrant: creating collection %q", s.cfg.Collection), err)
	}

	return nil
}

// validateSchema cross-checks the live collection against configuration.
func (s *QdrantStore) validateSchema(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return grpcError(KindIndexRead, "qdrant: reading collection info", err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		// Named-vector collections are not used by this service.
		return Errorf(KindConfiguration, "qdrant: collection %q has no default vector schema", s.cfg.Collection)
	}

	if got := params.GetSize(); got != s.cfg.VectorSize {
		return Errorf(KindConfiguration, "qdrant: collection %q stores %d-dimensional vectors, configuration expects %d",
			s.cfg.Collection, got, s.cfg.VectorSize)
	}

	want, _ := distanceOf(s.cfg.Metric)
	if got := params.GetDistance(); got != want {
		return Errorf(KindConfiguration, "qdrant: collection %q uses metric %s, configuration expects %s",
			s.cfg.Collection, got, want)
	}

	return nil
}

// Upsert writes all chunks in a single call. Qdrant applies the batch
// atomically per request, which is what lets the ingestion pipeline treat
// a document as all-or-nothing.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if uint64(len(c.Vector)) != s.cfg.VectorSize {
			return Errorf(KindEmbedding, "qdrant: chunk %s has %d-dimensional vector, collection expects %d",
				c.ID, len(c.Vector), s.cfg.VectorSize)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":        c.Text,
				"document_id": c.DocumentID,
				"ordinal":     c.Ordinal,
				"start":       c.Start,
				"end":         c.End,
				"page":        c.Page,
				"source":      c.Source,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return grpcError(KindIndexWrite, "qdrant: upsert", err)
	}

	return nil
}

// Search returns up to topK chunks most similar to vector, best first.
// minScore above zero becomes a server-side score threshold.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]ScoredChunk, error) {
	limit := uint64(topK)
	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		threshold := minScore
		query.ScoreThreshold = &threshold
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, grpcError(KindIndexRead, "qdrant: search", err)
	}

	hits := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		hit := ScoredChunk{Score: r.Score}
		hit.ID = r.Id.GetUuid()

		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				hit.Text = v.GetStringValue()
			}
			if v, ok := p["document_id"]; ok {
				hit.DocumentID = v.GetStringValue()
			}
			if v, ok := p["ordinal"]; ok {
				hit.Ordinal = int(v.GetIntegerValue())
			}
			if v, ok := p["start"]; ok {
				hit.Start = int(v.GetIntegerValue())
			}
			if v, ok := p["end"]; ok {
				hit.End = int(v.GetIntegerValue())
			}
			if v, ok := p["page"]; ok {
				hit.Page = int(v.GetIntegerValue())
			}
			if v, ok := p["source"]; ok {
				hit.Source = v.GetStringValue()
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteByDocument removes every point whose payload names the document.
// Unknown documents delete zero points without error, which is what the
// ingestion rollback path relies on.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return grpcError(KindIndexWrite, fmt.Sprintf("qdrant: deleting document %s", documentID), err)
	}

	return nil
}

// Count reports the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, grpcError(KindIndexRead, "qdrant: count", err)
	}
	return n, nil
}

// Ping verifies the Qdrant connection is alive.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// distanceOf maps a configured metric name to the Qdrant distance enum.
func distanceOf(metric string) (qdrant.Distance, error) {
	switch metric {
	case MetricCosine:
		return qdrant.Distance_Cosine, nil
	case MetricDot:
		return qdrant.Distance_Dot, nil
	case MetricEuclid:
		return qdrant.Distance_Euclid, nil
	default:
		return qdrant.Distance_UnknownDistance,
			Errorf(KindConfiguration, "qdrant: unknown similarity metric %q (want %s, %s or %s)",
				metric, MetricCosine, MetricDot, MetricEuclid)
	}
}

// grpcError classifies a Qdrant client error by gRPC status code.
// Unavailability, deadline and throttling codes are transient and worth
// retrying; schema and argument errors are not.
func grpcError(kind Kind, msg string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return Transientf(kind, "%s: %w", msg, err)
	default:
		return Errorf(kind, "%s: %w", msg, err)
	}
}
