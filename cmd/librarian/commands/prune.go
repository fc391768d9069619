package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/reconcile"
)

// NewPruneCmd constructs the `librarian prune` command.
func NewPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove vector points that no longer have a metadata chunk",
		Long: `Scan the vector store for orphan points — ids absent from the metadata
store — and delete them. Orphans appear when a crash lands between the
metadata write and the vector write, or after manual database surgery.

Stale documents are pruned automatically at the end of update and reindex
runs; this command covers the dual-store gap.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			meta, vectors, embedder, closer, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			defer closer()

			rec := reconcile.New(meta, vectors, embedder, cfg)
			result, err := rec.Prune(ctx)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}

			fmt.Printf("removed %d orphan points\n", result.Orphans)
			return nil
		},
	}
	return cmd
}
