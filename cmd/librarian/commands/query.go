package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/query"
)

// NewQueryCmd constructs the `librarian query` command.
func NewQueryCmd() *cobra.Command {
	var k int
	var source string
	var minScore float64
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a hybrid search over the index",
		Long: `Embed the query, search the vector store, fuse with BM25 keyword scores
over the candidate set, and print the top results (at most one chunk per
document). Use --json for machine-readable output.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			meta, vectors, embedder, closer, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer closer()

			sourceID := ""
			if source != "" {
				src, err := meta.FindSourceByName(ctx, source)
				if err != nil {
					return fmt.Errorf("query: unknown source %q", source)
				}
				sourceID = src.ID
			}

			var reranker *query.Reranker
			if cfg.Reranker.Enabled {
				reranker = query.NewReranker(cfg.Embedding.URL, cfg.Reranker.Model, cfg.RerankerSupportsImage(), cfg.EmbedTimeout())
			}

			engine := query.New(embedder, vectors, meta, cfg, reranker)
			results, err := engine.Search(ctx, query.Request{
				Query:    text,
				K:        k,
				SourceID: sourceID,
				MinScore: minScore,
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if results == nil {
					results = []query.Result{}
				}
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. [%.3f] %s\n", i+1, r.Score, r.URI)
				if r.Title != "" {
					fmt.Printf("    %s\n", r.Title)
				}
				fmt.Printf("    %s\n", snippet(r.Content, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", 0, "Number of results (default from config)")
	cmd.Flags().StringVar(&source, "source", "", "Restrict results to the named source")
	cmd.Flags().Float64Var(&minScore, "min-score", -1, "Drop results scoring below this value")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

// snippet flattens and truncates chunk text for terminal display.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n] + "…"
}
