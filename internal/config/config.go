// Package config provides TOML-based configuration for librarian.
// Configuration is loaded with a layered precedence: defaults → TOML file → env vars.
// Environment variables always win, so scripted workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LIBRARIAN_CONFIG environment variable
//  3. ~/.librarian/config.toml
//  4. ./librarian.toml
//
// If no file is found the system runs entirely from defaults and env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level TOML configuration structure.
type Config struct {
	// Embedding configures the embedding sidecar connection and model.
	Embedding EmbeddingConfig `toml:"embedding"`

	// Chunk configures text chunking bounds.
	Chunk ChunkConfig `toml:"chunk"`

	// Query configures hybrid search behavior.
	Query QueryConfig `toml:"query"`

	// Reranker configures optional cross-encoder reranking.
	Reranker RerankerConfig `toml:"reranker"`

	// Crawl configures remote acquisition (url and sitemap sources).
	Crawl CrawlConfig `toml:"crawl"`

	// Qdrant configures the vector store connection.
	Qdrant QdrantConfig `toml:"qdrant"`

	// Storage configures the metadata database and asset cache locations.
	Storage StorageConfig `toml:"storage"`
}

// EmbeddingConfig holds embedding sidecar settings.
type EmbeddingConfig struct {
	// URL is the embedding sidecar base URL.
	URL string `toml:"url"`
	// Model is the embedding model identifier, resolved against the model registry.
	Model string `toml:"model"`
	// Dimension is the expected embedding vector size. Must match the probed value.
	Dimension int `toml:"dimension"`
	// BatchSize is the maximum number of items per embed request.
	BatchSize int `toml:"batch_size"`
	// TimeoutSecs is the per-batch embed request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries bounds retry attempts for transient embed failures.
	MaxRetries int `toml:"max_retries"`
}

// ChunkConfig holds chunker bounds. All sizes are in characters.
type ChunkConfig struct {
	// MaxChars is the maximum chunk length.
	MaxChars int `toml:"max_chars"`
	// MinChars is the minimum chunk length for a mid-document cut.
	MinChars int `toml:"min_chars"`
	// OverlapChars is the overlap between consecutive chunks.
	OverlapChars int `toml:"overlap_chars"`
	// PreferHeadings makes heading boundaries the highest-priority cut point.
	PreferHeadings bool `toml:"prefer_headings"`
}

// QueryConfig holds hybrid search settings.
type QueryConfig struct {
	// TopK is the default number of results returned.
	TopK int `toml:"top_k"`
	// Overfetch multiplies TopK for the vector candidate fetch.
	Overfetch int `toml:"overfetch"`
	// BM25Weight is the lexical share of the fused score, in [0,1].
	BM25Weight float64 `toml:"bm25_weight"`
	// MinScore drops fused results below this threshold.
	MinScore float64 `toml:"min_score"`
}

// RerankerConfig holds cross-encoder reranker settings. The reranker runs on
// the embedding sidecar; its multimodal capability is derived from the model
// registry, never configured here.
type RerankerConfig struct {
	// Enabled turns reranking on.
	Enabled bool `toml:"enabled"`
	// Model is the cross-encoder model identifier.
	Model string `toml:"model"`
	// TopK is how many fused candidates are sent to the reranker.
	TopK int `toml:"top_k"`
}

// CrawlConfig holds remote acquisition settings.
type CrawlConfig struct {
	// MaxPages bounds the number of pages fetched per run.
	MaxPages int `toml:"max_pages"`
	// MaxDepth bounds BFS depth from the seed URL.
	MaxDepth int `toml:"max_depth"`
	// Parallelism is the number of concurrent document workers.
	Parallelism int `toml:"parallelism"`
	// RateLimitPerHost is the sustained request rate per host (req/s).
	RateLimitPerHost float64 `toml:"rate_limit_per_host"`
	// TimeoutSecs is the per-request HTTP timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
	// SameDomain restricts the crawl to the seed's registered domain.
	SameDomain bool `toml:"same_domain"`
	// UserAgent is sent with every remote request and used for robots.txt matching.
	UserAgent string `toml:"user_agent"`
	// Exclude is a list of glob patterns skipped during directory walks.
	Exclude []string `toml:"exclude"`
	// Extensions is the file-extension allowlist for directory walks.
	Extensions []string `toml:"extensions"`
	// Multimodal configures image ingestion.
	Multimodal MultimodalConfig `toml:"multimodal"`
}

// MultimodalConfig holds image ingestion settings.
type MultimodalConfig struct {
	// Enabled turns image harvesting and embedding on.
	Enabled bool `toml:"enabled"`
	// MaxImageBytes drops images larger than this after download.
	MaxImageBytes int64 `toml:"max_image_bytes"`
	// MIMETypes is the allowlist of image content types.
	MIMETypes []string `toml:"mime_types"`
	// CSSBackgrounds also harvests CSS background-image URLs.
	CSSBackgrounds bool `toml:"css_backgrounds"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `toml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `toml:"port"`
	// Collection is the collection name.
	Collection string `toml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `toml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `toml:"tls"`
}

// StorageConfig holds local storage locations.
type StorageConfig struct {
	// DBPath is the metadata SQLite database path.
	DBPath string `toml:"db_path"`
	// AssetDir is the content-addressed image cache directory.
	AssetDir string `toml:"asset_dir"`
}

// Default returns a Config populated with working defaults for a local setup.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			URL:         "http://localhost:8756",
			Model:       "nomic-embed-text-v1.5",
			Dimension:   768,
			BatchSize:   32,
			TimeoutSecs: 60,
			MaxRetries:  3,
		},
		Chunk: ChunkConfig{
			MaxChars:       1500,
			MinChars:       100,
			OverlapChars:   200,
			PreferHeadings: true,
		},
		Query: QueryConfig{
			TopK:       8,
			Overfetch:  4,
			BM25Weight: 0.3,
			MinScore:   0,
		},
		Reranker: RerankerConfig{
			Enabled: false,
			TopK:    20,
		},
		Crawl: CrawlConfig{
			MaxPages:         200,
			MaxDepth:         4,
			Parallelism:      4,
			RateLimitPerHost: 2.0,
			TimeoutSecs:      30,
			SameDomain:       true,
			UserAgent:        "librarian/1.0 (+https://github.com/sealad886/librarian)",
			Extensions:       []string{".md", ".markdown", ".txt", ".rst", ".html", ".htm"},
			Multimodal: MultimodalConfig{
				Enabled:       false,
				MaxImageBytes: 8 << 20,
				MIMETypes:     []string{"image/png", "image/jpeg", "image/gif", "image/webp"},
			},
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "librarian",
		},
	}
}

// EmbedTimeout returns the per-batch embed timeout as a duration.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSecs) * time.Second
}

// CrawlTimeout returns the per-request HTTP timeout as a duration.
func (c *Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSecs) * time.Second
}

// HomeDir returns the librarian home directory (~/.librarian), creating it
// if needed.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".librarian")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: could not create %s: %w", dir, err)
	}
	return dir, nil
}

// Load reads the TOML config file (if any), applies env var overrides, fills
// storage defaults, and validates the result. It returns the config and the
// path that was loaded (empty string if no file was found).
func Load(explicitPath string) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Storage.DBPath == "" {
		dir, err := HomeDir()
		if err != nil {
			return nil, "", err
		}
		cfg.Storage.DBPath = filepath.Join(dir, "librarian.db")
	}
	if cfg.Storage.AssetDir == "" {
		dir, err := HomeDir()
		if err != nil {
			return nil, "", err
		}
		cfg.Storage.AssetDir = filepath.Join(dir, "assets")
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LIBRARIAN_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".librarian", "config.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("librarian.toml"); err == nil {
		return "librarian.toml"
	}

	return ""
}

// applyEnvOverrides applies environment variables over file/default values.
// Env vars always win so operators can override a shared config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		host, port := splitHostPort(v)
		if host != "" {
			cfg.Qdrant.Host = host
		}
		if port != 0 {
			cfg.Qdrant.Port = port
		}
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		cfg.Qdrant.Collection = v
	}
	if v := os.Getenv("LIBRARIAN_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("LIBRARIAN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LIBRARIAN_DB"); v != "" {
		cfg.Storage.DBPath = v
	}
}

// splitHostPort parses "host", "host:port", or a URL like
// "http://host:6334" into its host and port parts. A missing or
// unparseable port is returned as 0.
func splitHostPort(s string) (string, int) {
	for _, scheme := range []string{"http://", "https://", "grpc://"} {
		if len(s) > len(scheme) && s[:len(scheme)] == scheme {
			s = s[len(scheme):]
			break
		}
	}
	host := s
	port := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			host = s[:i]
			if p, err := strconv.Atoi(s[i+1:]); err == nil {
				port = p
			}
			break
		}
		if s[i] < '0' || s[i] > '9' {
			break
		}
	}
	return host, port
}

// Validate enforces the load-time rules: chunk bounds are coherent, weights
// are in range, and multimodal ingestion requires a multimodal-capable model
// whose strategy is not late-interaction.
func (c *Config) Validate() error {
	if c.Chunk.MaxChars <= 0 {
		return fmt.Errorf("config: chunk.max_chars must be positive, got %d", c.Chunk.MaxChars)
	}
	if c.Chunk.MinChars < 0 || c.Chunk.MinChars > c.Chunk.MaxChars {
		return fmt.Errorf("config: chunk.min_chars %d must be within [0, max_chars=%d]", c.Chunk.MinChars, c.Chunk.MaxChars)
	}
	if c.Chunk.OverlapChars < 0 || c.Chunk.OverlapChars >= c.Chunk.MaxChars {
		return fmt.Errorf("config: chunk.overlap_chars %d must be within [0, max_chars=%d)", c.Chunk.OverlapChars, c.Chunk.MaxChars)
	}
	if c.Query.BM25Weight < 0 || c.Query.BM25Weight > 1 {
		return fmt.Errorf("config: query.bm25_weight %g must be within [0, 1]", c.Query.BM25Weight)
	}
	if c.Query.MinScore < 0 || c.Query.MinScore > 1 {
		return fmt.Errorf("config: query.min_score %g must be within [0, 1]", c.Query.MinScore)
	}
	if c.Query.Overfetch < 1 {
		return fmt.Errorf("config: query.overfetch must be at least 1, got %d", c.Query.Overfetch)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("config: embedding.model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Crawl.Parallelism <= 0 {
		c.Crawl.Parallelism = 1
	}
	if c.Crawl.RateLimitPerHost <= 0 {
		return fmt.Errorf("config: crawl.rate_limit_per_host must be positive, got %g", c.Crawl.RateLimitPerHost)
	}

	if c.Crawl.Multimodal.Enabled {
		registry, err := LoadRegistry()
		if err != nil {
			return err
		}
		entry, ok := registry[c.Embedding.Model]
		if !ok {
			return fmt.Errorf("config: crawl.multimodal is enabled but embedding model %q is not in the model registry", c.Embedding.Model)
		}
		if !entry.SupportsImage() {
			return fmt.Errorf("config: crawl.multimodal is enabled but model %q does not support the image modality", c.Embedding.Model)
		}
		if entry.Strategy == StrategyLateInteraction {
			return fmt.Errorf("config: crawl.multimodal is incompatible with late-interaction model %q", c.Embedding.Model)
		}
	}

	if c.Reranker.Enabled {
		if c.Reranker.Model == "" {
			return fmt.Errorf("config: reranker.enabled requires reranker.model")
		}
		if c.Reranker.TopK <= 0 {
			c.Reranker.TopK = 20
		}
	}

	return nil
}
