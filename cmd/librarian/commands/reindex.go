package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/reconcile"
	"github.com/sealad886/librarian/internal/store"
)

// NewReindexCmd constructs the `librarian reindex` command.
func NewReindexCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-chunk and re-embed sources regardless of content hashes",
		Long: `Re-run the full pipeline over one source (or all sources) with the
Reindex operation: every document is re-chunked and re-embedded even when
its content hash is unchanged. Use after changing the embedding model or
chunking configuration. Documents no longer present are pruned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			meta, vectors, embedder, closer, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer closer()

			rec := reconcile.New(meta, vectors, embedder, cfg)
			runs, err := rec.Reindex(ctx, source)
			for _, run := range runs {
				fmt.Printf("%s: %s — %d seen, %d changed, +%d/-%d chunks\n",
					run.SourceID, run.Status,
					run.Counters.DocsSeen, run.Counters.DocsChanged,
					run.Counters.ChunksAdded, run.Counters.ChunksRemoved)
			}
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			for _, run := range runs {
				if run.Status == store.StatusFailed {
					return fmt.Errorf("reindex: run for source %s failed", run.SourceID)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Reindex only the named source (default: all)")
	return cmd
}
