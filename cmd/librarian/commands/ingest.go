package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/assets"
	"github.com/sealad886/librarian/internal/fetch"
	"github.com/sealad886/librarian/internal/ingest"
	"github.com/sealad886/librarian/internal/store"
)

// NewIngestCmd constructs the `librarian ingest` command group with one
// subcommand per source kind.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a source into the index",
		Long: `Register a source and run the ingestion pipeline over it: acquire,
parse, chunk, embed, and persist. Re-running ingest on an unchanged corpus
is cheap — documents whose content hash is unchanged are skipped.

Use 'librarian ingest dir|url|sitemap' depending on where the content lives.`,
	}

	cmd.AddCommand(
		newIngestSubCmd("dir", store.KindDirectory, "Ingest a local directory recursively"),
		newIngestSubCmd("url", store.KindURL, "Ingest a web site by breadth-first crawl"),
		newIngestSubCmd("sitemap", store.KindSitemap, "Ingest the URL set of a sitemap.xml or URL list"),
	)
	return cmd
}

// newIngestSubCmd builds one ingest subcommand for a source kind.
func newIngestSubCmd(use string, kind store.SourceKind, short string) *cobra.Command {
	var name string
	var update bool

	cmd := &cobra.Command{
		Use:   use + " <location>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := args[0]
			if name == "" {
				name = location
			}

			ctx, cancel, log := commandContext(cmd.Context())
			defer cancel()

			meta, vectors, embedder, closer, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closer()

			var imageFetcher *assets.Fetcher
			if cfg.Crawl.Multimodal.Enabled {
				imageFetcher = assets.NewFetcher(
					cfg.Storage.AssetDir,
					cfg.Crawl.Multimodal.MaxImageBytes,
					cfg.Crawl.Multimodal.MIMETypes,
					cfg.CrawlTimeout(),
				)
			}

			pipeline := ingest.New(meta, vectors, embedder, imageFetcher, cfg)

			op := store.OpIngest
			if update {
				op = store.OpUpdate
			}
			opts := ingest.Options{
				Operation:   op,
				Interactive: isInteractive(),
				Confirm:     confirm,
			}

			src, err := pipeline.EnsureSource(ctx, name, kind, location, opts)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			limiter := fetch.NewHostLimiter(cfg.Crawl.RateLimitPerHost)
			acq, err := acquirerFor(kind, location, limiter)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			run, err := pipeline.Run(ctx, src, acq, opts)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Printf("%s: %s — %d seen, %d changed, +%d/-%d chunks, %d errors\n",
				src.Name, run.Status,
				run.Counters.DocsSeen, run.Counters.DocsChanged,
				run.Counters.ChunksAdded, run.Counters.ChunksRemoved,
				run.Counters.Errors)

			if run.Status == store.StatusFailed {
				return fmt.Errorf("ingest: run failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Source name (default: the location)")
	cmd.Flags().BoolVar(&update, "update", false, "Run as an incremental update: prune documents no longer present")
	return cmd
}

// acquirerFor builds the acquirer for a kind/location pair.
func acquirerFor(kind store.SourceKind, location string, limiter *fetch.HostLimiter) (fetch.Acquirer, error) {
	switch kind {
	case store.KindDirectory:
		return &fetch.Directory{
			Root:       location,
			Exclude:    cfg.Crawl.Exclude,
			Extensions: cfg.Crawl.Extensions,
		}, nil
	case store.KindURL:
		return &fetch.Crawler{
			Seed:        location,
			MaxPages:    cfg.Crawl.MaxPages,
			MaxDepth:    cfg.Crawl.MaxDepth,
			Parallelism: cfg.Crawl.Parallelism,
			SameDomain:  cfg.Crawl.SameDomain,
			UserAgent:   cfg.Crawl.UserAgent,
			Timeout:     cfg.CrawlTimeout(),
			Limiter:     limiter,
			FollowLinks: true,
		}, nil
	case store.KindSitemap:
		return &fetch.Sitemap{
			URL:         location,
			MaxPages:    cfg.Crawl.MaxPages,
			Parallelism: cfg.Crawl.Parallelism,
			UserAgent:   cfg.Crawl.UserAgent,
			Timeout:     cfg.CrawlTimeout(),
			Limiter:     limiter,
		}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}
