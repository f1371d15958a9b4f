package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinrag/clinrag-go/internal/embedder"
	"github.com/clinrag/clinrag-go/internal/extract"
	"github.com/clinrag/clinrag-go/internal/ingestion"
	"github.com/clinrag/clinrag-go/internal/logging"
)

// NewIngestCmd constructs the `clinrag ingest` command, which chunks, embeds
// and indexes local document files into the vector store.
func NewIngestCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest local documents into the vector store",
		Long: `Chunk, embed and index local document files into the Qdrant vector store.

Supported formats: PDF (.pdf) and plain text (.txt, .text, .md). Each file
becomes one document; re-ingesting a file replaces its indexed chunks.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: clinical-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: gemini, ollama, openai, azure (default: gemini)
  EMBEDDING_MODEL      Embedding model name (provider-specific default)
  EMBEDDING_DIMENSIONS Vector width; must match the Qdrant collection

Examples:
  clinrag ingest discharge-summary.pdf
  clinrag ingest notes/*.txt
  clinrag ingest --format text exported-notes.dat
  EMBEDDING_PROVIDER=ollama clinrag ingest protocol.pdf guidelines.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			var declared extract.Format
			if format != "" {
				f, err := extract.FormatOf(format)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				declared = f
			}

			settings, err := resolveSettings()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("provider", embeddingBackend()),
				slog.Int("dimensions", emb.Dimensions()),
			)

			store, err := openStore(ctx, settings, emb.Dimensions(), log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer store.Close()

			cat, err := openCatalog(settings, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = cat.Close() }()

			pipeline, err := ingestion.NewPipeline(emb, store, cat, &ingestion.Config{
				ChunkSize:      settings.ChunkSize,
				ChunkOverlap:   settings.ChunkOverlap,
				EmbedBatchSize: settings.EmbedBatchSize,
				EmbedWorkers:   settings.EmbedWorkers,
				EmbedRPS:       settings.EmbedRPS,
				EmbedRetry:     settings.EmbedRetry,
				WriteRetry:     settings.WriteRetry,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("files", len(args)))

			totalChunks := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}

				summary, err := ingestOne(ctx, pipeline, filepath.Base(path), data, declared, settings.IngestTimeout)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				log.Info("document ingested",
					slog.String("file", path),
					slog.String("document_id", summary.DocumentID),
					slog.String("format", string(summary.Format)),
					slog.Int("chunks", summary.Chunks),
					slog.Int("pages", summary.Pages),
				)
				totalChunks += summary.Chunks
			}

			log.Info("ingestion complete",
				slog.Int("documents", len(args)),
				slog.Int("chunks", totalChunks),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Override format detection: pdf or text")

	return cmd
}

// ingestOne runs the pipeline for a single file under the ingest timeout.
// An empty format means detection from the file name.
func ingestOne(ctx context.Context, pipeline *ingestion.Pipeline, name string, data []byte, format extract.Format, timeout time.Duration) (*ingestion.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return pipeline.Ingest(ctx, ingestion.Request{
		Name:   name,
		Data:   data,
		Format: format,
	})
}
