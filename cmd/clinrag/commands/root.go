// Package commands defines all Cobra CLI commands for the clinrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/clinrag/clinrag-go/internal/audit"
	"github.com/clinrag/clinrag-go/internal/config"
	"github.com/clinrag/clinrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clinrag",
		Short: "clinrag — question answering over your clinical documents",
		Long: `clinrag answers natural language questions about documents you have ingested.

Documents (PDF or plain text) are chunked, embedded and indexed in a Qdrant
vector store. A question retrieves the most relevant chunks and a chat model
generates an answer grounded in them, citing its sources.

Model and embedding providers are selected via the MODEL_PROVIDER and
EMBEDDING_PROVIDER environment variables or a YAML config file
(~/.clinrag/config.yaml).
See 'clinrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.clinrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewDocumentsCmd(),
		NewVersionCmd(),
	)

	return root
}
