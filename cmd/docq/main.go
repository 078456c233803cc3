// Command docq is the entry point for the document question-answering
// service. It provides a CLI (via Cobra) for ingestion, one-shot questions
// and table conversion, plus an HTTP server for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/quenlabs/docq/cmd/docq/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
