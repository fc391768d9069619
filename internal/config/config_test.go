package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes a TOML config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func Test_Config_DefaultsValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.DBPath = "/tmp/librarian-test.db"
	cfg.Storage.AssetDir = "/tmp/librarian-assets"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func Test_Config_LoadAppliesFileValues(t *testing.T) {
	path := writeConfig(t, `
[embedding]
model = "bge-m3"
dimension = 1024

[chunk]
max_chars = 900
min_chars = 50
overlap_chars = 100

[query]
bm25_weight = 0.5
`)

	cfg, loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded path = %q, want %q", loaded, path)
	}
	if cfg.Embedding.Model != "bge-m3" || cfg.Embedding.Dimension != 1024 {
		t.Errorf("embedding section not applied: %+v", cfg.Embedding)
	}
	if cfg.Chunk.MaxChars != 900 {
		t.Errorf("chunk section not applied: %+v", cfg.Chunk)
	}
	if cfg.Query.BM25Weight != 0.5 {
		t.Errorf("query section not applied: %+v", cfg.Query)
	}
	// Unset sections keep defaults.
	if cfg.Crawl.RateLimitPerHost != 2.0 {
		t.Errorf("crawl defaults lost: %+v", cfg.Crawl)
	}
}

func Test_Config_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[qdrant]
host = "db.internal"
port = 7000
`)
	t.Setenv("QDRANT_URL", "http://qdrant.example:6334")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Qdrant.Host != "qdrant.example" || cfg.Qdrant.Port != 6334 {
		t.Errorf("QDRANT_URL must override the file: %+v", cfg.Qdrant)
	}
}

func Test_Config_SplitHostPort(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"localhost", "localhost", 0},
		{"localhost:6334", "localhost", 6334},
		{"http://qdrant.example:6334", "qdrant.example", 6334},
		{"https://qdrant.example", "qdrant.example", 0},
	}
	for _, c := range cases {
		host, port := splitHostPort(c.in)
		if host != c.host || port != c.port {
			t.Errorf("splitHostPort(%q) = (%q, %d), want (%q, %d)", c.in, host, port, c.host, c.port)
		}
	}
}

func Test_Config_ValidateRejectsBadChunkBounds(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Chunk.OverlapChars = cfg.Chunk.MaxChars
	if err := cfg.Validate(); err == nil {
		t.Error("overlap >= max_chars must be rejected")
	}

	cfg = Default()
	cfg.Chunk.MinChars = cfg.Chunk.MaxChars + 1
	if err := cfg.Validate(); err == nil {
		t.Error("min_chars > max_chars must be rejected")
	}
}

func Test_Config_MultimodalRequiresCapableModel(t *testing.T) {
	cfg := Default()
	cfg.Crawl.Multimodal.Enabled = true

	// Text-only model.
	cfg.Embedding.Model = "nomic-embed-text-v1.5"
	if err := cfg.Validate(); err == nil {
		t.Error("multimodal with a text-only model must be rejected")
	}

	// Late-interaction model.
	cfg.Embedding.Model = "colbert-v2"
	if err := cfg.Validate(); err == nil {
		t.Error("multimodal with a late-interaction model must be rejected")
	}

	// Dual-encoder multimodal model passes.
	cfg.Embedding.Model = "clip-vit-b-32"
	cfg.Embedding.Dimension = 512
	if err := cfg.Validate(); err != nil {
		t.Errorf("multimodal-capable model must validate: %v", err)
	}
}

func Test_Config_RegistryOverrideFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	registry := `{"custom-clip": {"dimension": 256, "modalities": ["text", "image"], "strategy": "joint"}}`
	if err := os.WriteFile(path, []byte(registry), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	t.Setenv("LIBRARIAN_EMBEDDING_MODELS_PATH", path)

	got, err := LoadRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	entry, ok := got["custom-clip"]
	if !ok || entry.Dimension != 256 || !entry.SupportsImage() {
		t.Errorf("registry override not applied: %+v", got)
	}
	if _, ok := got["nomic-embed-text-v1.5"]; ok {
		t.Error("file registry must replace the builtin table")
	}
}

func Test_Config_RerankerRequiresModelWhenEnabled(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Reranker.Enabled = true
	cfg.Reranker.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Error("enabled reranker without a model must be rejected")
	}
}
