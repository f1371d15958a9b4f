package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/clinrag/clinrag-go/internal/answer"
	"github.com/clinrag/clinrag-go/internal/embedder"
	"github.com/clinrag/clinrag-go/internal/ingestion"
	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/provider"
	"github.com/clinrag/clinrag-go/internal/rag"
	"github.com/clinrag/clinrag-go/internal/server"
	"github.com/clinrag/clinrag-go/internal/tracing"
)

// NewServeCmd constructs the `clinrag serve` command, which starts the HTTP
// server exposing the query, ingestion and document management API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clinrag HTTP server",
		Long: `Start the clinrag HTTP server on localhost.

The server exposes a REST API for asking questions (POST /api/query),
ingesting documents (POST /api/ingest/text, POST /api/ingest/pdf) and
managing the indexed corpus (GET /api/documents, DELETE /api/documents/{id}).
Liveness, readiness and Prometheus metrics endpoints are served alongside.

Examples:
  clinrag serve
  clinrag serve --port 9090
  MODEL_PROVIDER=azure clinrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("embedding_provider", embeddingBackend()),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			settings, err := resolveSettings()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("provider", embeddingBackend()),
				slog.Int("dimensions", emb.Dimensions()),
			)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}

			store, err := openStore(ctx, settings, emb.Dimensions(), log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer store.Close()

			cat, err := openCatalog(settings, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
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
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			retriever, err := rag.NewRetriever(emb, store, rag.RetrieverConfig{
				TopK:     settings.TopK,
				MinScore: settings.MinScore,
				Retry:    settings.ReadRetry,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			assembler, err := rag.NewAssembler(settings.ContextBudget, settings.BudgetUnit)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			answerer, err := answer.New(&answer.Config{
				Retriever: retriever,
				Assembler: assembler,
				ChatModel: chatModel,
				Retry:     settings.GenerateRetry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create answer pipeline: %w", err)
			}

			srv, err := server.New(server.Deps{
				Querier:  answerer,
				Ingestor: pipeline,
				Catalog:  cat,
				Index:    store,
			}, &server.Config{
				Host:           host,
				Port:           port,
				QueryTimeout:   settings.QueryTimeout,
				IngestTimeout:  settings.IngestTimeout,
				MaxUploadBytes: settings.MaxUploadBytes,
				DefaultTopK:    settings.TopK,
				Logger:         log,
				Pingers: []server.Pinger{
					server.NewQdrantPinger(store),
					server.NewCatalogPinger(cat),
				},
				RateLimit: settings.RateRPS,
				RateBurst: settings.RateBurst,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
