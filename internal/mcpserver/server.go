// Package mcpserver exposes the query and ingestion operations as MCP tools
// over stdio, so AI clients can search and maintain the index. Read-side
// tools answer inline; write-side tools acknowledge immediately and run the
// work in a detached task that opens its own store connections from the
// immutable configuration — never borrowing the request handler's.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sealad886/librarian/internal/config"
	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/fetch"
	"github.com/sealad886/librarian/internal/ingest"
	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/query"
	"github.com/sealad886/librarian/internal/reconcile"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
	"github.com/sealad886/librarian/internal/version"
)

// Server is the MCP server wrapping the query and status operations.
type Server struct {
	mcp *mcp.Server
	cfg *config.Config
	log *slog.Logger

	// meta and engine serve the read-side tools for the server's lifetime.
	meta   *store.Store
	engine *query.Engine
}

// New constructs the server and registers its tools. The read-side stack is
// opened eagerly so a broken configuration fails at startup, not on first use.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	meta, vectors, embedder, err := openStack(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var reranker *query.Reranker
	if cfg.Reranker.Enabled {
		reranker = query.NewReranker(cfg.Embedding.URL, cfg.Reranker.Model, cfg.RerankerSupportsImage(), cfg.EmbedTimeout())
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		meta:   meta,
		engine: query.New(embedder, vectors, meta, cfg, reranker),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "librarian",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp: serving over stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// registerTools registers all librarian tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_search",
		Description: "Hybrid search over the indexed corpus. Fuses semantic similarity with BM25 keyword relevance and returns the best chunk per document.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_sources",
		Description: "List the registered sources with their kind, location, and last successful ingestion time.",
	}, s.handleSources)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_status",
		Description: "Report index statistics and the most recent ingestion runs.",
	}, s.handleStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_ingest_source",
		Description: "Register and ingest a new source (directory, url, or sitemap). Acknowledges immediately; ingestion runs in the background.",
	}, s.handleIngestSource)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_update",
		Description: "Incrementally update a source: re-acquire, re-embed changed documents, prune unseen ones. Acknowledges immediately.",
	}, s.handleUpdate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_reindex",
		Description: "Force re-chunking and re-embedding of a source (or all sources) regardless of content hashes. Acknowledges immediately.",
	}, s.handleReindex)
}

// openStack opens the metadata store, vector store, and embedding client
// from configuration. Each caller owns the returned handles.
func openStack(ctx context.Context, cfg *config.Config) (*store.Store, vector.Store, *embed.Client, error) {
	meta, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	vectors, err := vector.NewQdrantStore(&cfg.Qdrant)
	if err != nil {
		_ = meta.Close()
		return nil, nil, nil, err
	}
	embedder := embed.New(&cfg.Embedding, cfg.EmbedTimeout())
	if err := embedder.Init(ctx, cfg.Crawl.Multimodal.Enabled); err != nil {
		_ = meta.Close()
		_ = vectors.Close()
		return nil, nil, nil, err
	}
	if err := vectors.EnsureCollection(ctx, embedder.Dimension()); err != nil {
		_ = meta.Close()
		_ = vectors.Close()
		return nil, nil, nil, err
	}
	return meta, vectors, embedder, nil
}

// detach runs fn in a background goroutine with fresh store connections and
// a context detached from the request. The request handler returns
// immediately; the job's lifetime is not coupled to the caller's.
func (s *Server) detach(name string, fn func(ctx context.Context, meta *store.Store, vectors vector.Store, embedder *embed.Client) error) {
	cfg := s.cfg // immutable after load; safe to share by value semantics
	log := s.log.With(slog.String("job", name))

	go func() {
		ctx := logging.WithLogger(context.Background(), log)

		meta, vectors, embedder, err := openStack(ctx, cfg)
		if err != nil {
			log.Error("mcp: background job failed to open stores", slog.Any("error", err))
			return
		}
		defer func() {
			_ = meta.Close()
			_ = vectors.Close()
		}()

		started := time.Now()
		if err := fn(ctx, meta, vectors, embedder); err != nil {
			log.Error("mcp: background job failed", slog.Any("error", err))
			return
		}
		log.Info("mcp: background job finished", slog.Duration("elapsed", time.Since(started)))
	}()
}

// newPipeline builds an ingestion pipeline over freshly opened handles.
func (s *Server) newPipeline(meta *store.Store, vectors vector.Store, embedder *embed.Client) *ingest.Pipeline {
	return ingest.New(meta, vectors, embedder, nil, s.cfg)
}

// runOperation executes one pipeline operation for a stored source.
func (s *Server) runOperation(ctx context.Context, meta *store.Store, vectors vector.Store, embedder *embed.Client, src *store.Source, op store.Operation) error {
	pipeline := s.newPipeline(meta, vectors, embedder)
	limiter := fetch.NewHostLimiter(s.cfg.Crawl.RateLimitPerHost)
	acq, err := reconcile.AcquirerForSource(src, s.cfg, limiter)
	if err != nil {
		return err
	}
	// Background invocations are never interactive.
	_, err = pipeline.Run(ctx, src, acq, ingest.Options{Operation: op, Interactive: false})
	return err
}
