package commands

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinrag/clinrag-go/internal/logging"
)

// NewDocumentsCmd constructs the `clinrag documents` command, which lists
// the ingested documents recorded in the catalog.
func NewDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List ingested documents",
		Long: `List the documents recorded in the catalog, most recently ingested first.

The catalog records one row per successfully ingested document; a document
listed here has its chunks indexed in the vector store. Use the HTTP API
(DELETE /api/documents/{id}) to remove a document.

Examples:
  clinrag documents`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			settings, err := resolveSettings()
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			cat, err := openCatalog(settings, log)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = cat.Close() }()

			entries, err := cat.List(ctx)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("no documents ingested")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOCUMENT ID\tNAME\tFORMAT\tCHUNKS\tPAGES\tINGESTED")
			for _, e := range entries {
				pages := "-"
				if e.Pages > 0 {
					pages = strconv.Itoa(e.Pages)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.DocumentID, e.Name, e.Format, e.Chunks, pages,
					e.IngestedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}
