package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sealad886/librarian/internal/config"
)

// defaultConfigTOML is the commented starting config written by `librarian init`.
const defaultConfigTOML = `# librarian configuration.
# Environment variables (QDRANT_URL, LIBRARIAN_EMBEDDING_URL, ...) override
# values in this file.

[embedding]
url = "http://localhost:8756"
model = "nomic-embed-text-v1.5"
dimension = 768
batch_size = 32
timeout_secs = 60

[chunk]
max_chars = 1500
min_chars = 100
overlap_chars = 200
prefer_headings = true

[query]
top_k = 8
overfetch = 4
bm25_weight = 0.3
min_score = 0.0

[reranker]
enabled = false
model = "bge-reranker-v2-m3"
top_k = 20

[crawl]
max_pages = 200
max_depth = 4
parallelism = 4
rate_limit_per_host = 2.0
timeout_secs = 30
same_domain = true
extensions = [".md", ".markdown", ".txt", ".rst", ".html", ".htm"]

[crawl.multimodal]
enabled = false
max_image_bytes = 8388608
mime_types = ["image/png", "image/jpeg", "image/gif", "image/webp"]
css_backgrounds = false

[qdrant]
host = "localhost"
port = 6334
collection = "librarian"
`

// NewInitCmd constructs the `librarian init` command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create ~/.librarian and a commented default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.HomeDir()
			if err != nil {
				return err
			}

			path := filepath.Join(dir, "config.toml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("init: %s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o600); err != nil {
				return fmt.Errorf("init: write %s: %w", path, err)
			}

			fmt.Printf("wrote %s\n", path)
			fmt.Println("next steps:")
			fmt.Println("  1. start qdrant and the embedding sidecar")
			fmt.Println("  2. librarian ingest dir <path>   (or: ingest url / ingest sitemap)")
			fmt.Println("  3. librarian query \"your question\"")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
