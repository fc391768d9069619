package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/mcpserver"
)

// NewMCPCmd constructs the `librarian mcp` command, which serves the query
// and ingestion operations as MCP tools over stdio.
func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Run the MCP (Model Context Protocol) server over stdio so AI clients can
search and maintain the index. Exposed tools:

  rag_search          hybrid search over the indexed corpus
  rag_sources         list registered sources
  rag_status          index statistics and recent runs
  rag_ingest_source   register and ingest a new source (background)
  rag_update          incremental update of a source (background)
  rag_reindex         force re-embedding of a source (background)

Write-side tools acknowledge immediately; the work runs detached with its
own store connections.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			server, err := mcpserver.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return server.Run(ctx)
		},
	}
	return cmd
}
