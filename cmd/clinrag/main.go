// Command clinrag is the entry point for the clinical document RAG service.
// It provides a CLI interface (via Cobra) for ingesting documents and asking
// one-shot questions, and an HTTP server exposing the REST API.
package main

import (
	"fmt"
	"os"

	"github.com/clinrag/clinrag-go/cmd/clinrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
