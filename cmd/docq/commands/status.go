package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quenlabs/docq/internal/logging"
)

// NewStatusCmd constructs the `docq status` command, which lists the
// currently ingested documents from the local registry.
func NewStatusCmd() *cobra.Command {
	var historySource string
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List ingested documents",
		Long: `List the documents currently held in the vector store, as recorded by
the local ingestion registry (~/.docq/registry.db).

Examples:
  docq status
  docq status --history notes.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			reg := openRegistry(log)
			if reg == nil {
				return fmt.Errorf("status: registry is disabled or unavailable")
			}
			defer reg.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

			if historySource != "" {
				records, err := reg.History(ctx, historySource, historyLimit)
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				fmt.Fprintln(w, "WHEN\tEVENT\tCHUNKS\tREASON\tDOC HASH")
				for _, rec := range records {
					hash := rec.DocHash
					if len(hash) > 12 {
						hash = hash[:12]
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
						rec.CreatedAt.Format("2006-01-02 15:04:05"),
						rec.Event, rec.Chunks, rec.Reason, hash)
				}
				return w.Flush()
			}

			records, err := reg.Documents(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("no documents ingested")
				return nil
			}

			fmt.Fprintln(w, "SOURCE\tCHUNKS\tINGESTED\tDOC HASH")
			for _, rec := range records {
				hash := rec.DocHash
				if len(hash) > 12 {
					hash = hash[:12]
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					rec.Source, rec.Chunks,
					rec.CreatedAt.Format("2006-01-02 15:04:05"), hash)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&historySource, "history", "", "Show the ingestion history of one source")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum history entries to show")

	return cmd
}
