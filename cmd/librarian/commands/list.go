package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/store"
)

// sourceListing is the JSON shape of one source in `librarian list --json`.
type sourceListing struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Location    string `json:"location"`
	Documents   int    `json:"documents"`
	Chunks      int64  `json:"chunks"`
	CreatedAt   string `json:"created_at"`
	LastSuccess string `json:"last_success,omitempty"`
}

// NewListCmd constructs the `librarian list` command.
func NewListCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, _ := commandContext(cmd.Context())
			defer cancel()

			meta, err := store.Open(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer meta.Close()

			sources, err := meta.ListSources(ctx)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			listings := make([]sourceListing, 0, len(sources))
			for _, src := range sources {
				docs, err := meta.ListDocuments(ctx, src.ID)
				if err != nil {
					return fmt.Errorf("list: %w", err)
				}
				chunks, err := meta.CountChunks(ctx, src.ID)
				if err != nil {
					return fmt.Errorf("list: %w", err)
				}
				l := sourceListing{
					Name:      src.Name,
					Kind:      string(src.Kind),
					Location:  src.Location,
					Documents: len(docs),
					Chunks:    chunks,
					CreatedAt: src.CreatedAt.UTC().Format(time.RFC3339),
				}
				if src.LastSuccessAt != nil {
					l.LastSuccess = src.LastSuccessAt.UTC().Format(time.RFC3339)
				}
				listings = append(listings, l)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(listings)
			}

			if len(listings) == 0 {
				fmt.Println("no sources registered — try 'librarian ingest dir <path>'")
				return nil
			}
			for _, l := range listings {
				last := l.LastSuccess
				if last == "" {
					last = "never"
				}
				fmt.Printf("%-20s %-9s %4d docs %6d chunks  last ok: %s\n    %s\n",
					l.Name, l.Kind, l.Documents, l.Chunks, last, l.Location)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
