package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/ingest"
	"github.com/sealad886/librarian/internal/query"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// SearchInput defines the input schema for the rag_search tool.
type SearchInput struct {
	Query    string  `json:"query" jsonschema:"the search query to execute"`
	K        int     `json:"k,omitempty" jsonschema:"maximum number of results, default from config"`
	Source   string  `json:"source,omitempty" jsonschema:"restrict results to the named source"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this value"`
}

// SearchOutput defines the output schema for the rag_search tool.
type SearchOutput struct {
	Results []query.Result `json:"results" jsonschema:"ranked search results"`
}

// handleSearch serves the rag_search tool.
func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query parameter is required")
	}

	sourceID := ""
	if input.Source != "" {
		src, err := s.meta.FindSourceByName(ctx, input.Source)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("unknown source %q", input.Source)
		}
		sourceID = src.ID
	}

	results, err := s.engine.Search(ctx, query.Request{
		Query:    input.Query,
		K:        input.K,
		SourceID: sourceID,
		MinScore: input.MinScore,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}
	if results == nil {
		results = []query.Result{}
	}
	return nil, SearchOutput{Results: results}, nil
}

// SourcesInput defines the (empty) input schema for rag_sources.
type SourcesInput struct{}

// SourceInfo is one source in the rag_sources output.
type SourceInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Location    string `json:"location"`
	CreatedAt   string `json:"created_at"`
	LastSuccess string `json:"last_success,omitempty"`
}

// SourcesOutput defines the output schema for rag_sources.
type SourcesOutput struct {
	Sources []SourceInfo `json:"sources"`
}

// handleSources serves the rag_sources tool.
func (s *Server) handleSources(ctx context.Context, req *mcp.CallToolRequest, input SourcesInput) (*mcp.CallToolResult, SourcesOutput, error) {
	sources, err := s.meta.ListSources(ctx)
	if err != nil {
		return nil, SourcesOutput{}, err
	}

	out := SourcesOutput{Sources: make([]SourceInfo, 0, len(sources))}
	for _, src := range sources {
		info := SourceInfo{
			Name:      src.Name,
			Kind:      string(src.Kind),
			Location:  src.Location,
			CreatedAt: src.CreatedAt.UTC().Format(time.RFC3339),
		}
		if src.LastSuccessAt != nil {
			info.LastSuccess = src.LastSuccessAt.UTC().Format(time.RFC3339)
		}
		out.Sources = append(out.Sources, info)
	}
	return nil, out, nil
}

// StatusInput defines the (empty) input schema for rag_status.
type StatusInput struct{}

// RunInfo is one ingestion run in the rag_status output.
type RunInfo struct {
	SourceID    string `json:"source_id"`
	Operation   string `json:"operation"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	DocsSeen    int64  `json:"docs_seen"`
	DocsChanged int64  `json:"docs_changed"`
	ChunksAdded int64  `json:"chunks_added"`
	Errors      int64  `json:"errors"`
}

// StatusOutput defines the output schema for rag_status.
type StatusOutput struct {
	Sources    int       `json:"sources"`
	Chunks     int64     `json:"chunks"`
	RecentRuns []RunInfo `json:"recent_runs"`
}

// handleStatus serves the rag_status tool.
func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	sources, err := s.meta.ListSources(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	chunks, err := s.meta.CountChunks(ctx, "")
	if err != nil {
		return nil, StatusOutput{}, err
	}
	runs, err := s.meta.LastRuns(ctx, "", 10)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		Sources:    len(sources),
		Chunks:     chunks,
		RecentRuns: make([]RunInfo, 0, len(runs)),
	}
	for _, run := range runs {
		out.RecentRuns = append(out.RecentRuns, RunInfo{
			SourceID:    run.SourceID,
			Operation:   string(run.Operation),
			Status:      string(run.Status),
			StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
			DocsSeen:    run.Counters.DocsSeen,
			DocsChanged: run.Counters.DocsChanged,
			ChunksAdded: run.Counters.ChunksAdded,
			Errors:      run.Counters.Errors,
		})
	}
	return nil, out, nil
}

// IngestSourceInput defines the input schema for rag_ingest_source.
type IngestSourceInput struct {
	Name     string `json:"name" jsonschema:"human-facing source name"`
	Kind     string `json:"kind" jsonschema:"source kind: directory, url, or sitemap"`
	Location string `json:"location" jsonschema:"root path or URL of the source"`
}

// AckOutput is the immediate acknowledgement of a write-side tool.
type AckOutput struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// handleIngestSource serves the rag_ingest_source tool.
func (s *Server) handleIngestSource(ctx context.Context, req *mcp.CallToolRequest, input IngestSourceInput) (*mcp.CallToolResult, AckOutput, error) {
	kind := store.SourceKind(input.Kind)
	switch kind {
	case store.KindDirectory, store.KindURL, store.KindSitemap:
	default:
		return nil, AckOutput{}, fmt.Errorf("kind must be directory, url, or sitemap")
	}
	if input.Name == "" || input.Location == "" {
		return nil, AckOutput{}, fmt.Errorf("name and location are required")
	}

	s.detach("ingest:"+input.Name, func(ctx context.Context, meta *store.Store, vectors vector.Store, embedder *embed.Client) error {
		pipeline := ingest.New(meta, vectors, embedder, nil, s.cfg)
		src, err := pipeline.EnsureSource(ctx, input.Name, kind, input.Location, ingest.Options{Operation: store.OpIngest})
		if err != nil {
			return err
		}
		return s.runOperation(ctx, meta, vectors, embedder, src, store.OpIngest)
	})

	return nil, AckOutput{Accepted: true, Message: fmt.Sprintf("ingestion of %q started", input.Name)}, nil
}

// SourceOpInput names a source for rag_update and rag_reindex. An empty name
// applies the operation to every source.
type SourceOpInput struct {
	Source string `json:"source,omitempty" jsonschema:"source name; empty applies to all sources"`
}

// handleUpdate serves the rag_update tool.
func (s *Server) handleUpdate(ctx context.Context, req *mcp.CallToolRequest, input SourceOpInput) (*mcp.CallToolResult, AckOutput, error) {
	return s.sourceOperation(ctx, input.Source, store.OpUpdate)
}

// handleReindex serves the rag_reindex tool.
func (s *Server) handleReindex(ctx context.Context, req *mcp.CallToolRequest, input SourceOpInput) (*mcp.CallToolResult, AckOutput, error) {
	return s.sourceOperation(ctx, input.Source, store.OpReindex)
}

// sourceOperation validates the source name inline, then detaches the work.
func (s *Server) sourceOperation(ctx context.Context, sourceName string, op store.Operation) (*mcp.CallToolResult, AckOutput, error) {
	var targets []*store.Source
	if sourceName != "" {
		src, err := s.meta.FindSourceByName(ctx, sourceName)
		if err != nil {
			return nil, AckOutput{}, fmt.Errorf("unknown source %q", sourceName)
		}
		targets = []*store.Source{src}
	} else {
		all, err := s.meta.ListSources(ctx)
		if err != nil {
			return nil, AckOutput{}, err
		}
		targets = all
	}

	s.detach(string(op), func(ctx context.Context, meta *store.Store, vectors vector.Store, embedder *embed.Client) error {
		for _, src := range targets {
			if err := s.runOperation(ctx, meta, vectors, embedder, src, op); err != nil {
				return err
			}
		}
		return nil
	})

	label := sourceName
	if label == "" {
		label = fmt.Sprintf("%d sources", len(targets))
	}
	return nil, AckOutput{Accepted: true, Message: fmt.Sprintf("%s of %s started", op, label)}, nil
}
