package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quenlabs/docq/internal/embedder"
	"github.com/quenlabs/docq/internal/generator"
	"github.com/quenlabs/docq/internal/logging"
	"github.com/quenlabs/docq/internal/provider"
	"github.com/quenlabs/docq/internal/rag"
)

// NewAskCmd constructs the `docq ask` command, which answers one natural
// language question over the ingested documents and prints the answer with
// its sources.
func NewAskCmd() *cobra.Command {
	var threshold float64
	var showPrompt bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question over the ingested documents",
		Long: `Ask a natural language question; docq retrieves the most relevant
chunks from the vector store and generates an answer grounded in them.

Examples:
  docq ask "what is our incident escalation policy?"
  docq ask --threshold 0.7 "which regions does the payments service run in?"
  MODEL_PROVIDER=azure docq ask "summarise the Q3 architecture review"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise embedder: %w", err)
			}

			store, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer store.Close()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			gen, err := generator.New(chatModel)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			engine, err := rag.NewEngine(emb, store, gen, engineConfigFromEnv(log))
			if err != nil {
				return fmt.Errorf("ask: failed to create engine: %w", err)
			}

			var th *float64
			if cmd.Flags().Changed("threshold") {
				th = &threshold
			}

			answer, err := engine.Query(ctx, args[0], th)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer.Answer)
			if len(answer.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range answer.Sources {
					fmt.Printf("  - %s\n", src)
				}
			}
			if showPrompt && answer.Prompt != "" {
				fmt.Printf("\n--- prompt ---\n%s\n", answer.Prompt)
			}
			return nil
		},
	}

	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Similarity cutoff in [0,1]; overrides the configured default")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "Print the full prompt sent to the model")

	return cmd
}
