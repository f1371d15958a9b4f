package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinrag/clinrag-go/internal/answer"
	"github.com/clinrag/clinrag-go/internal/config"
	"github.com/clinrag/clinrag-go/internal/embedder"
	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/provider"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// NewQueryCmd constructs the `clinrag query` command, which answers a single
// question against the indexed corpus and prints the answer with its sources.
func NewQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a one-shot question against the indexed documents",
		Long: `Answer a natural language question from the indexed document corpus.

The question is embedded, the most relevant chunks are retrieved from Qdrant,
and the chat model generates an answer grounded in them. Sources are printed
below the answer with their citation labels and similarity scores.

Examples:
  clinrag query "what anticoagulant was prescribed at discharge?"
  clinrag query --top-k 5 "which inclusion criteria apply to cohort B?"
  MODEL_PROVIDER=ollama clinrag query "summarise the renal dosing guidance"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if topK < 0 || topK > config.MaxTopK {
				return fmt.Errorf("query: --top-k must be between 1 and %d", config.MaxTopK)
			}

			settings, err := resolveSettings()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("query: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("query: failed to initialise embedder: %w", err)
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("query: failed to initialise model provider: %w", err)
			}

			store, err := openStore(ctx, settings, emb.Dimensions(), log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer store.Close()

			retriever, err := rag.NewRetriever(emb, store, rag.RetrieverConfig{
				TopK:     settings.TopK,
				MinScore: settings.MinScore,
				Retry:    settings.ReadRetry,
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			assembler, err := rag.NewAssembler(settings.ContextBudget, settings.BudgetUnit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			answerer, err := answer.New(&answer.Config{
				Retriever: retriever,
				Assembler: assembler,
				ChatModel: chatModel,
				Retry:     settings.GenerateRetry,
			})
			if err != nil {
				return fmt.Errorf("query: failed to create answer pipeline: %w", err)
			}

			ctx, cancel := context.WithTimeout(ctx, settings.QueryTimeout)
			defer cancel()

			ans, err := answerer.Answer(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			log.Debug("query answered",
				slog.Int("retrieved", ans.Retrieved),
				slog.Int("citations", len(ans.Citations)),
				slog.Bool("insufficient", ans.Insufficient),
			)

			fmt.Println(ans.Text)
			if len(ans.Citations) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, c := range ans.Citations {
					if c.Page > 0 {
						fmt.Printf("  [%d] %s p.%d (score %.2f)\n", c.Label, c.Source, c.Page, c.Score)
					} else {
						fmt.Printf("  [%d] %s (score %.2f)\n", c.Label, c.Source, c.Score)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RETRIEVAL_TOP_K)")

	return cmd
}
