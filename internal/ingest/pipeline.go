// Package ingest implements the ingestion coordinator: the state machine
// that drives acquisition → parse → chunk → embed → persist for one
// (source, operation) invocation, with incremental update semantics and
// canonical document identity. Metadata is always written before vectors so
// a crash between the two stores leaves a reconcilable state.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sealad886/librarian/internal/assets"
	"github.com/sealad886/librarian/internal/chunk"
	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/fetch"
	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/metrics"
	"github.com/sealad886/librarian/internal/parse"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// ErrPromptRequired is returned when a code path needs user confirmation but
// the invocation is non-interactive. Background invocations must never hang
// on a prompt; surfacing this error is the required behavior.
var ErrPromptRequired = errors.New("ingest: confirmation required but invocation is non-interactive")

// ConfirmFunc asks the user a yes/no question. Only called for interactive
// invocations.
type ConfirmFunc func(prompt string) (bool, error)

// Options controls one pipeline invocation.
type Options struct {
	// Operation is ingest, update, or reindex.
	Operation store.Operation
	// Interactive permits prompting. Background invocations must pass false.
	Interactive bool
	// Confirm handles prompts for interactive invocations. Required when
	// Interactive is true.
	Confirm ConfirmFunc
}

// Pipeline is the ingestion coordinator. Construct one per invocation; the
// store and vector handles are owned, not shared with request handlers.
type Pipeline struct {
	// meta is the metadata store.
	meta *store.Store
	// vectors is the vector index client.
	vectors vector.Store
	// embedder is the sidecar embedding client, already initialized.
	embedder *embed.Client
	// images downloads image assets; nil when multimodal is disabled.
	images *assets.Fetcher
	// cfg is the loaded configuration.
	cfg *config.Config
}

// New constructs a Pipeline. images may be nil to disable multimodal
// ingestion regardless of configuration.
func New(meta *store.Store, vectors vector.Store, embedder *embed.Client, images *assets.Fetcher, cfg *config.Config) *Pipeline {
	return &Pipeline{
		meta:     meta,
		vectors:  vectors,
		embedder: embedder,
		images:   images,
		cfg:      cfg,
	}
}

// EnsureSource resolves the source row for an ingest invocation. If another
// source already holds the requested name at a different location, the user
// is asked to confirm creating a second source under that name; in
// non-interactive mode that situation is ErrPromptRequired.
func (p *Pipeline) EnsureSource(ctx context.Context, name string, kind store.SourceKind, location string, opts Options) (*store.Source, error) {
	existing, err := p.meta.FindSourceByName(ctx, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && (existing.Kind != kind || existing.Location != location) {
		if !opts.Interactive {
			return nil, fmt.Errorf("%w: source %q already exists for %s %s", ErrPromptRequired, name, existing.Kind, existing.Location)
		}
		if opts.Confirm == nil {
			return nil, fmt.Errorf("ingest: interactive invocation without a confirm handler")
		}
		ok, err := opts.Confirm(fmt.Sprintf("A source named %q already exists (%s %s). Create another source with the same name?", name, existing.Kind, existing.Location))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("ingest: aborted by user")
		}
	}
	return p.meta.UpsertSource(ctx, name, kind, location)
}

// counters aggregates run statistics across workers.
type counters struct {
	docsSeen      atomic.Int64
	docsChanged   atomic.Int64
	chunksAdded   atomic.Int64
	chunksRemoved atomic.Int64
	bytesFetched  atomic.Int64
	errors        atomic.Int64
}

// snapshot converts the atomic counters into a store value.
func (c *counters) snapshot() store.RunCounters {
	return store.RunCounters{
		DocsSeen:      c.docsSeen.Load(),
		DocsChanged:   c.docsChanged.Load(),
		ChunksAdded:   c.chunksAdded.Load(),
		ChunksRemoved: c.chunksRemoved.Load(),
		BytesFetched:  c.bytesFetched.Load(),
		Errors:        c.errors.Load(),
	}
}

// Run executes one pipeline invocation over the given source and acquirer.
// It opens an IngestionRun, drives the acquirer through a bounded worker
// pool, prunes unseen documents for full-refresh operations, and closes the
// run with an accurate terminal status. The returned Run reflects the final
// counters even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, src *store.Source, acq fetch.Acquirer, opts Options) (*store.Run, error) {
	log := logging.FromContext(ctx).With(
		slog.String("source", src.Name),
		slog.String("operation", string(opts.Operation)),
	)
	ctx = logging.WithLogger(ctx, log)

	// Run bookkeeping happens regardless of cancellation state: a cancelled
	// invocation still gets a run row closed as Cancelled.
	run, err := p.meta.OpenRun(context.WithoutCancel(ctx), src.ID, opts.Operation, opts.Interactive)
	if err != nil {
		return nil, err
	}

	cnt := &counters{}
	// seenURIs feeds the end-of-run prune; updates are serialized so the
	// prune sees a consistent snapshot.
	seen := make(map[string]struct{})
	var seenMu sync.Mutex

	onErr := func(uri string, err error) {
		cnt.errors.Add(1)
		metrics.Default.FetchErrorsTotal.WithLabelValues(string(src.Kind)).Inc()
		log.Warn("ingest: item failed", slog.String("uri", uri), slog.Any("error", err))
	}

	acquireErr := p.process(ctx, src, acq, opts, cnt, seen, &seenMu, onErr, log)

	// Pruning only applies to operations that re-cover the full source.
	if acquireErr == nil && ctx.Err() == nil && opts.Operation != store.OpIngest {
		seenMu.Lock()
		snapshot := seen
		seenMu.Unlock()
		pruned, pointIDs, err := p.meta.PruneDocuments(ctx, src.ID, snapshot)
		if err != nil {
			acquireErr = err
		} else if pruned > 0 {
			cnt.chunksRemoved.Add(int64(len(pointIDs)))
			if err := p.vectors.DeletePoints(ctx, pointIDs); err != nil {
				onErr(src.Location, err)
			}
			log.Info("ingest: pruned stale documents", slog.Int("documents", pruned), slog.Int("points", len(pointIDs)))
		}
	}

	status := terminalStatus(ctx, acquireErr, cnt)
	run.Counters = cnt.snapshot()
	run.Status = status
	now := time.Now()
	run.FinishedAt = &now

	if closeErr := p.meta.CloseRun(context.WithoutCancel(ctx), run.ID, status, run.Counters); closeErr != nil {
		log.Error("ingest: failed to close run", slog.Any("error", closeErr))
	}
	if status == store.StatusSucceeded || status == store.StatusPartiallyFailed {
		_ = p.meta.TouchSourceSuccess(context.WithoutCancel(ctx), src.ID, now)
	}

	log.Info("ingest: run finished",
		slog.String("status", string(status)),
		slog.Int64("docs_seen", run.Counters.DocsSeen),
		slog.Int64("docs_changed", run.Counters.DocsChanged),
		slog.Int64("chunks_added", run.Counters.ChunksAdded),
		slog.Int64("chunks_removed", run.Counters.ChunksRemoved),
		slog.Int64("errors", run.Counters.Errors),
	)

	if acquireErr != nil && !errors.Is(acquireErr, context.Canceled) {
		return run, acquireErr
	}
	return run, nil
}

// process drives the acquirer through the worker pool. Document processing
// parallelizes across workers; per-document work is sequential.
func (p *Pipeline) process(ctx context.Context, src *store.Source, acq fetch.Acquirer, opts Options, cnt *counters, seen map[string]struct{}, seenMu *sync.Mutex, onErr fetch.ErrorFunc, log *slog.Logger) error {
	parallelism := p.cfg.Crawl.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	items := make(chan fetch.Item)
	g, gctx := errgroup.WithContext(ctx)

	for range parallelism {
		g.Go(func() error {
			for item := range items {
				if err := p.processItem(gctx, src, item, opts, cnt, seen, seenMu); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					// Storage constraint violations are bugs; everything
					// else is an item-level failure the run survives.
					if isStorageViolation(err) {
						return err
					}
					onErr(item.URI, err)
					metrics.Default.DocsProcessedTotal.WithLabelValues("error").Inc()
				}
			}
			return nil
		})
	}

	var acquireErr error
	g.Go(func() error {
		defer close(items)
		acquireErr = acq.Acquire(gctx, func(item fetch.Item) error {
			select {
			case items <- item:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}, onErr)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return acquireErr
}

// processItem handles one acquired document end to end.
func (p *Pipeline) processItem(ctx context.Context, src *store.Source, item fetch.Item, opts Options, cnt *counters, seen map[string]struct{}, seenMu *sync.Mutex) error {
	cnt.docsSeen.Add(1)
	cnt.bytesFetched.Add(int64(len(item.Body)))

	seenMu.Lock()
	seen[item.URI] = struct{}{}
	seenMu.Unlock()

	contentType := parse.Detect(item.URI, item.Body)
	multimodal := p.images != nil && p.cfg.Crawl.Multimodal.Enabled

	res, err := parse.Parse(item.URI, contentType, item.Body, parse.Options{
		Multimodal:     multimodal,
		CSSBackgrounds: p.cfg.Crawl.Multimodal.CSSBackgrounds,
	})
	if err != nil {
		return fmt.Errorf("parse %s: %w", item.URI, err)
	}

	docHash := chunk.HashText(res.Text)

	previous, err := p.meta.FindDocument(ctx, src.ID, item.URI)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// The returned row is canonical: its id must be used for every chunk
	// write below. A freshly minted id for a pre-existing (source, URI)
	// is exactly the bug class the store prevents.
	doc, err := p.meta.UpsertDocument(ctx, &store.Document{
		SourceID:    src.ID,
		URI:         item.URI,
		ContentType: contentType,
		Title:       res.Title,
		ByteLen:     int64(len(item.Body)),
		ContentHash: docHash,
		FetchedAt:   item.FetchedAt,
	})
	if err != nil {
		return err
	}

	if previous != nil && previous.ContentHash == docHash && opts.Operation != store.OpReindex {
		metrics.Default.DocsProcessedTotal.WithLabelValues("unchanged").Inc()
		return nil
	}
	cnt.docsChanged.Add(1)
	metrics.Default.DocsProcessedTotal.WithLabelValues("changed").Inc()

	if err := p.replaceTextChunks(ctx, src, doc, res, cnt); err != nil {
		return err
	}
	if multimodal {
		if err := p.replaceImageChunks(ctx, src, doc, res, cnt); err != nil {
			return err
		}
	}
	return nil
}

// replaceTextChunks regenerates the text chunks of a document: chunk, swap
// atomically in metadata, embed, then reconcile the vector store.
func (p *Pipeline) replaceTextChunks(ctx context.Context, src *store.Source, doc *store.Document, res *parse.Result, cnt *counters) error {
	pieces := chunk.Split(chunk.Input{
		Text:           res.Text,
		HeadingOffsets: res.HeadingOffsets(),
		CodeSpans:      res.CodeSpans,
	}, chunk.Config{
		MaxChars:       p.cfg.Chunk.MaxChars,
		MinChars:       p.cfg.Chunk.MinChars,
		OverlapChars:   p.cfg.Chunk.OverlapChars,
		PreferHeadings: p.cfg.Chunk.PreferHeadings,
	})

	rows := make([]*store.Chunk, len(pieces))
	for i, piece := range pieces {
		id := store.ChunkID(doc.ID, store.ModalityText, i, piece.Hash)
		rows[i] = &store.Chunk{
			ID:          id,
			DocID:       doc.ID,
			Ordinal:     i,
			Modality:    store.ModalityText,
			Content:     piece.Text,
			ContentHash: piece.Hash,
			StartOffset: piece.Start,
			EndOffset:   piece.End,
			PointID:     vector.PointID(id),
			NumChars:    len(piece.Text),
		}
	}

	removed, err := p.meta.ReplaceChunks(ctx, doc.ID, store.ModalityText, rows)
	if err != nil {
		return err
	}
	cnt.chunksAdded.Add(int64(len(rows)))
	cnt.chunksRemoved.Add(int64(len(removed)))

	if len(rows) > 0 {
		texts := make([]string, len(rows))
		for i, row := range rows {
			texts[i] = row.Content
		}
		vecs, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		points := make([]vector.Point, len(rows))
		for i, row := range rows {
			points[i] = vector.Point{
				ID:      row.PointID,
				Vector:  vecs[i],
				Payload: pointPayload(src, doc, row),
			}
		}
		if err := p.vectors.UpsertPoints(ctx, points); err != nil {
			return err
		}
		metrics.Default.ChunksEmbeddedTotal.WithLabelValues(string(store.ModalityText)).Add(float64(len(points)))
	}

	return p.deleteStalePoints(ctx, removed, rows)
}

// replaceImageChunks regenerates the image chunks of a document. The swap is
// modality-scoped: text churn never erases image embeddings and vice versa.
func (p *Pipeline) replaceImageChunks(ctx context.Context, src *store.Source, doc *store.Document, res *parse.Result, cnt *counters) error {
	imgs, err := p.images.Fetch(ctx, res.Images)
	if err != nil {
		return err
	}
	cnt.bytesFetched.Add(imageBytes(imgs))

	rows := make([]*store.Chunk, len(imgs))
	for i, img := range imgs {
		hash := chunk.HashImage(img.URL, img.SHA256)
		id := store.ChunkID(doc.ID, store.ModalityImage, i, hash)
		rows[i] = &store.Chunk{
			ID:          id,
			DocID:       doc.ID,
			Ordinal:     i,
			Modality:    store.ModalityImage,
			MediaURL:    img.URL,
			MediaHash:   img.SHA256,
			ContentHash: hash,
			PointID:     vector.PointID(id),
		}
	}

	removed, err := p.meta.ReplaceChunks(ctx, doc.ID, store.ModalityImage, rows)
	if err != nil {
		return err
	}
	cnt.chunksAdded.Add(int64(len(rows)))
	cnt.chunksRemoved.Add(int64(len(removed)))

	if len(imgs) > 0 {
		inputs := make([]embed.ImageInput, len(imgs))
		for i, img := range imgs {
			inputs[i] = embed.ImageInput{
				ImageB64: base64.StdEncoding.EncodeToString(img.Bytes),
				Text:     img.Caption(),
			}
		}
		vecs, err := p.embedder.EmbedImages(ctx, inputs)
		if err != nil {
			return err
		}
		points := make([]vector.Point, len(rows))
		for i, row := range rows {
			payload := pointPayload(src, doc, row)
			payload.Content = imgs[i].Caption()
			points[i] = vector.Point{ID: row.PointID, Vector: vecs[i], Payload: payload}
		}
		if err := p.vectors.UpsertPoints(ctx, points); err != nil {
			return err
		}
		metrics.Default.ChunksEmbeddedTotal.WithLabelValues(string(store.ModalityImage)).Add(float64(len(points)))
	}

	return p.deleteStalePoints(ctx, removed, rows)
}

// deleteStalePoints removes the vector points of replaced chunks, skipping
// ids that the new chunk set re-uses (unchanged content keeps its point id,
// and the upsert above already overwrote it).
func (p *Pipeline) deleteStalePoints(ctx context.Context, removed []string, kept []*store.Chunk) error {
	if len(removed) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(kept))
	for _, row := range kept {
		keep[row.PointID] = struct{}{}
	}
	var stale []string
	for _, id := range removed {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return p.vectors.DeletePoints(ctx, stale)
}

// pointPayload builds the vector payload for a chunk.
func pointPayload(src *store.Source, doc *store.Document, row *store.Chunk) vector.Payload {
	content := row.Content
	if row.Modality == store.ModalityImage {
		content = row.MediaURL
	}
	return vector.Payload{
		SourceID:    src.ID,
		DocID:       doc.ID,
		ChunkID:     row.ID,
		URI:         doc.URI,
		Modality:    string(row.Modality),
		Ordinal:     row.Ordinal,
		ContentHash: row.ContentHash,
		Title:       doc.Title,
		Content:     content,
	}
}

// imageBytes sums downloaded image sizes for the bytes_fetched counter.
func imageBytes(imgs []*assets.Image) int64 {
	var n int64
	for _, img := range imgs {
		n += int64(len(img.Bytes))
	}
	return n
}

// terminalStatus decides the run's terminal status from the cancellation
// state, the source-level error, and the item-level error count.
func terminalStatus(ctx context.Context, acquireErr error, cnt *counters) store.RunStatus {
	switch {
	case ctx.Err() != nil || errors.Is(acquireErr, context.Canceled):
		return store.StatusCancelled
	case acquireErr != nil:
		return store.StatusFailed
	case cnt.errors.Load() > 0:
		return store.StatusPartiallyFailed
	default:
		return store.StatusSucceeded
	}
}

// isStorageViolation reports whether err is a metadata constraint violation
// — a bug class that must surface loudly rather than be counted and skipped.
func isStorageViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "canonical id")
}
