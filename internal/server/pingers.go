package server

import (
	"context"
	"fmt"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// QdrantPinger probes the vector index over Qdrant's native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// store is the vector store whose connection is probed.
	store *rag.QdrantStore
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store *rag.QdrantStore) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CatalogPinger probes the document catalog database.
// It satisfies the Pinger interface and is used by GET /api/ready.
type CatalogPinger struct {
	// store is the catalog whose database connection is probed.
	store catalog.Store
}

// NewCatalogPinger constructs a CatalogPinger for the given catalog.
func NewCatalogPinger(store catalog.Store) *CatalogPinger {
	return &CatalogPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *CatalogPinger) Name() string { return "catalog" }

// Ping verifies the catalog database answers a trivial query.
func (p *CatalogPinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
