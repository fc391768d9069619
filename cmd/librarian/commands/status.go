package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// statusReport is the JSON shape of `librarian status --json`.
type statusReport struct {
	Sources     int         `json:"sources"`
	Chunks      int64       `json:"chunks"`
	Qdrant      healthState `json:"qdrant"`
	Sidecar     healthState `json:"embedding_sidecar"`
	RecentRuns  []runReport `json:"recent_runs"`
	DBPath      string      `json:"db_path"`
	Collection  string      `json:"collection"`
	Model       string      `json:"model"`
	Multimodal  bool        `json:"multimodal"`
	RerankerOn  bool        `json:"reranker"`
	ConfigValid bool        `json:"config_valid"`
}

// healthState is one dependency's reachability.
type healthState struct {
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

// runReport is the JSON shape of one recent run.
type runReport struct {
	Source      string `json:"source_id"`
	Operation   string `json:"operation"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	DocsSeen    int64  `json:"docs_seen"`
	DocsChanged int64  `json:"docs_changed"`
	ChunksAdded int64  `json:"chunks_added"`
	Errors      int64  `json:"errors"`
}

// NewStatusCmd constructs the `librarian status` command. It reports index
// statistics, recent runs, and pings the two external dependencies.
func NewStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics, recent runs, and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, _ := commandContext(cmd.Context())
			defer cancel()

			meta, err := store.Open(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer meta.Close()

			sources, err := meta.ListSources(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			chunks, err := meta.CountChunks(ctx, "")
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			runs, err := meta.LastRuns(ctx, "", 10)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			report := statusReport{
				Sources:     len(sources),
				Chunks:      chunks,
				Qdrant:      pingQdrant(ctx),
				Sidecar:     pingSidecar(ctx),
				DBPath:      cfg.Storage.DBPath,
				Collection:  cfg.Qdrant.Collection,
				Model:       cfg.Embedding.Model,
				Multimodal:  cfg.Crawl.Multimodal.Enabled,
				RerankerOn:  cfg.Reranker.Enabled,
				ConfigValid: true,
			}
			for _, run := range runs {
				report.RecentRuns = append(report.RecentRuns, runReport{
					Source:      run.SourceID,
					Operation:   string(run.Operation),
					Status:      string(run.Status),
					StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
					DocsSeen:    run.Counters.DocsSeen,
					DocsChanged: run.Counters.DocsChanged,
					ChunksAdded: run.Counters.ChunksAdded,
					Errors:      run.Counters.Errors,
				})
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("sources: %d   chunks: %d\n", report.Sources, report.Chunks)
			fmt.Printf("qdrant:  %s\n", healthString(report.Qdrant))
			fmt.Printf("sidecar: %s\n", healthString(report.Sidecar))
			if len(report.RecentRuns) > 0 {
				fmt.Println("recent runs:")
				for _, r := range report.RecentRuns {
					fmt.Printf("  %s %-8s %-17s seen=%d changed=%d added=%d errors=%d\n",
						r.StartedAt, r.Operation, r.Status, r.DocsSeen, r.DocsChanged, r.ChunksAdded, r.Errors)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

// pingQdrant probes the vector store with a collection-existence check.
func pingQdrant(ctx context.Context) healthState {
	vectors, err := vector.NewQdrantStore(&cfg.Qdrant)
	if err != nil {
		return healthState{Reachable: false, Detail: err.Error()}
	}
	defer vectors.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := vectors.EnsureCollection(probeCtx, cfg.Embedding.Dimension); err != nil {
		return healthState{Reachable: false, Detail: err.Error()}
	}
	return healthState{Reachable: true}
}

// pingSidecar probes the embedding sidecar's capabilities endpoint.
func pingSidecar(ctx context.Context) healthState {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.Embedding.URL+"/capabilities", nil)
	if err != nil {
		return healthState{Reachable: false, Detail: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return healthState{Reachable: false, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return healthState{Reachable: false, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return healthState{Reachable: true}
}

// healthString renders a healthState for terminal output.
func healthString(h healthState) string {
	if h.Reachable {
		return "ok"
	}
	if h.Detail != "" {
		return "unreachable (" + h.Detail + ")"
	}
	return "unreachable"
}
