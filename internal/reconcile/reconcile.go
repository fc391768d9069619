// Package reconcile repairs drift between the metadata store and the vector
// store. No distributed transaction spans the two, so after a crash the
// stores can disagree. Prune removes vector points lacking a metadata chunk
// (orphans). Metadata chunks lacking a vector point are not scanned for; a
// Reindex of their source re-embeds and re-upserts every chunk.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/fetch"
	"github.com/sealad886/librarian/internal/ingest"
	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// Reconciler composes the stores for prune, reindex, and remove operations.
type Reconciler struct {
	// meta is the metadata store.
	meta *store.Store
	// vectors is the vector index client.
	vectors vector.Store
	// embedder is the sidecar embedding client, already initialized.
	embedder *embed.Client
	// cfg is the loaded configuration.
	cfg *config.Config
}

// New constructs a Reconciler.
func New(meta *store.Store, vectors vector.Store, embedder *embed.Client, cfg *config.Config) *Reconciler {
	return &Reconciler{meta: meta, vectors: vectors, embedder: embedder, cfg: cfg}
}

// PruneResult reports what a prune pass removed.
type PruneResult struct {
	// Orphans is the number of vector points removed because no metadata
	// chunk references them.
	Orphans int
}

// Prune scans the vector store for orphan points — ids absent from the
// metadata store — and removes them. Stale-document pruning happens at the
// end of Update/Reindex runs; this pass covers the dual-store gap left by a
// crash between metadata and vector writes.
func (r *Reconciler) Prune(ctx context.Context) (*PruneResult, error) {
	log := logging.FromContext(ctx)

	var orphans []string
	err := r.vectors.ScanIDs(ctx, func(id string) error {
		exists, err := r.meta.ChunkExistsByPointID(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			orphans = append(orphans, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: orphan scan: %w", err)
	}

	if len(orphans) > 0 {
		if err := r.vectors.DeletePoints(ctx, orphans); err != nil {
			return nil, fmt.Errorf("reconcile: orphan delete: %w", err)
		}
		log.Info("reconcile: removed orphan points", slog.Int("count", len(orphans)))
	}
	return &PruneResult{Orphans: len(orphans)}, nil
}

// Reindex re-chunks and re-embeds all documents of one source (or every
// source when sourceName is ""), by re-running the pipeline with the Reindex
// operation. Content is re-acquired from each source's location; documents
// whose URIs are no longer observed are pruned.
func (r *Reconciler) Reindex(ctx context.Context, sourceName string) ([]*store.Run, error) {
	sources, err := r.resolveSources(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	pipeline := ingest.New(r.meta, r.vectors, r.embedder, nil, r.cfg)
	limiter := fetch.NewHostLimiter(r.cfg.Crawl.RateLimitPerHost)

	var runs []*store.Run
	for _, src := range sources {
		acq, err := AcquirerForSource(src, r.cfg, limiter)
		if err != nil {
			return runs, err
		}
		run, err := pipeline.Run(ctx, src, acq, ingest.Options{Operation: store.OpReindex})
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// Remove deletes a source: its metadata row (documents and chunks cascade)
// and every vector point carrying its source_id.
func (r *Reconciler) Remove(ctx context.Context, sourceName string) error {
	src, err := r.meta.FindSourceByName(ctx, sourceName)
	if err != nil {
		return err
	}

	// Metadata first, then vectors: a crash in between leaves orphan
	// points, which the next Prune removes. The filter delete backstops
	// the collected ids in case of historical drift.
	pointIDs, err := r.meta.DeleteSource(ctx, src.ID)
	if err != nil {
		return err
	}
	if err := r.vectors.DeletePoints(ctx, pointIDs); err != nil {
		return fmt.Errorf("reconcile: remove source points: %w", err)
	}
	if err := r.vectors.DeleteByFilter(ctx, vector.Filter{SourceID: src.ID}); err != nil {
		return fmt.Errorf("reconcile: remove source filter delete: %w", err)
	}

	logging.FromContext(ctx).Info("reconcile: removed source",
		slog.String("source", sourceName),
		slog.Int("points", len(pointIDs)),
	)
	return nil
}

// resolveSources returns the named source, or all sources when name is "".
func (r *Reconciler) resolveSources(ctx context.Context, name string) ([]*store.Source, error) {
	if name != "" {
		src, err := r.meta.FindSourceByName(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("reconcile: no source named %q", name)
			}
			return nil, err
		}
		return []*store.Source{src}, nil
	}
	return r.meta.ListSources(ctx)
}

// AcquirerForSource builds the acquirer matching a stored source's kind.
func AcquirerForSource(src *store.Source, cfg *config.Config, limiter *fetch.HostLimiter) (fetch.Acquirer, error) {
	switch src.Kind {
	case store.KindDirectory:
		return &fetch.Directory{
			Root:       src.Location,
			Exclude:    cfg.Crawl.Exclude,
			Extensions: cfg.Crawl.Extensions,
		}, nil
	case store.KindURL:
		return &fetch.Crawler{
			Seed:        src.Location,
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
			URL:         src.Location,
			MaxPages:    cfg.Crawl.MaxPages,
			Parallelism: cfg.Crawl.Parallelism,
			UserAgent:   cfg.Crawl.UserAgent,
			Timeout:     cfg.CrawlTimeout(),
			Limiter:     limiter,
		}, nil
	default:
		return nil, fmt.Errorf("reconcile: unknown source kind %q", src.Kind)
	}
}
