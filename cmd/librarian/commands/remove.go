package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/reconcile"
)

// NewRemoveCmd constructs the `librarian remove` command.
func NewRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <source>",
		Short: "Delete a source and everything derived from it",
		Long: `Delete the named source: its metadata row, all its documents and chunks
(cascading), and every vector point carrying its source id. This cannot be
undone; re-ingest to rebuild.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			if !yes {
				if !isInteractive() {
					return fmt.Errorf("remove: refusing to delete %q without --yes in a non-interactive session", name)
				}
				ok, err := confirm(fmt.Sprintf("Delete source %q and all its documents, chunks, and vectors?", name))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("remove: aborted")
				}
			}

			meta, vectors, embedder, closer, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			defer closer()

			rec := reconcile.New(meta, vectors, embedder, cfg)
			if err := rec.Remove(ctx, name); err != nil {
				return fmt.Errorf("remove: %w", err)
			}

			fmt.Printf("removed source %q\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
