package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/config"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// resolveSettings builds the validated core configuration from the
// environment. Call after config.Load so YAML-seeded values are visible.
func resolveSettings() (*config.Settings, error) {
	settings := config.FromEnv()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// embeddingBackend resolves the effective embedding backend name. The
// embedder inherits MODEL_PROVIDER when EMBEDDING_PROVIDER is unset.
func embeddingBackend() string {
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		return v
	}
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		return v
	}
	return "gemini"
}

// openStore connects to Qdrant using the resolved settings. vectorSize must
// match the embedder's output width or the collection schema check fails.
func openStore(ctx context.Context, settings *config.Settings, vectorSize int, log *slog.Logger) (*rag.QdrantStore, error) {
	q := settings.Qdrant
	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       q.Host,
		Port:       q.Port,
		Collection: q.Collection,
		VectorSize: uint64(vectorSize), //nolint:gosec // dimensions are bounded
		Metric:     q.Metric,
		APIKey:     q.APIKey,
		UseTLS:     q.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", q.Host, q.Port, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", q.Host),
		slog.Int("port", q.Port),
		slog.String("collection", q.Collection),
		slog.String("metric", q.Metric),
	)
	return store, nil
}

// openCatalog opens the document catalog database. CLINRAG_CATALOG_DB
// overrides the default path (~/.clinrag/catalog.db).
func openCatalog(settings *config.Settings, log *slog.Logger) (*catalog.SQLiteCatalog, error) {
	path := settings.CatalogDB
	if path == "" {
		var err error
		path, err = catalog.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
		}
	}
	cat, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog at %s: %w", path, err)
	}
	log.Info("catalog opened", slog.String("path", path))
	return cat, nil
}
