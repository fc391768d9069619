// Package commands defines all Cobra CLI commands for the librarian binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/audit"
	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/logging"
)

// configPath holds the --config flag value for TOML config file override.
var configPath string

// cfg is the loaded configuration, populated in PersistentPreRunE.
var cfg *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "librarian",
		Short: "librarian — local RAG indexing and hybrid search",
		Long: `librarian ingests documents from local directories, crawled web sites,
and sitemaps; chunks and embeds them; and serves hybrid (BM25 + vector)
queries over the result.

Metadata lives in a local SQLite database, vectors in a Qdrant collection,
and embeddings come from the local embedding sidecar.

Configuration is read from ~/.librarian/config.toml (see 'librarian init');
environment variables such as QDRANT_URL always override file values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			slog.SetDefault(log)

			loaded, path, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file (default: ~/.librarian/config.toml)")

	root.AddCommand(
		NewInitCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewListCmd(),
		NewStatusCmd(),
		NewPruneCmd(),
		NewReindexCmd(),
		NewRemoveCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return root
}
