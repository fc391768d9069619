package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Embedding strategy names as reported by the sidecar capabilities endpoint.
const (
	StrategySingleVector    = "single-vector"
	StrategyDualEncoder     = "dual-encoder"
	StrategyJoint           = "joint"
	StrategyLateInteraction = "late-interaction"
)

// ModelEntry describes one embedding model known to the sidecar.
type ModelEntry struct {
	// Dimension is the embedding vector size.
	Dimension int `json:"dimension"`
	// Modalities lists supported input kinds ("text", "image").
	Modalities []string `json:"modalities"`
	// Strategy is the embedding strategy (see Strategy* constants).
	Strategy string `json:"strategy"`
	// Rerank marks cross-encoder models usable by the reranker.
	Rerank bool `json:"rerank,omitempty"`
}

// SupportsImage reports whether the model accepts image inputs.
func (e ModelEntry) SupportsImage() bool {
	for _, m := range e.Modalities {
		if m == "image" {
			return true
		}
	}
	return false
}

// builtinRegistry covers the models the bundled sidecar ships with. It is
// used when LIBRARIAN_EMBEDDING_MODELS_PATH is unset.
var builtinRegistry = map[string]ModelEntry{
	"nomic-embed-text-v1.5": {
		Dimension:  768,
		Modalities: []string{"text"},
		Strategy:   StrategySingleVector,
	},
	"bge-m3": {
		Dimension:  1024,
		Modalities: []string{"text"},
		Strategy:   StrategySingleVector,
	},
	"clip-vit-b-32": {
		Dimension:  512,
		Modalities: []string{"text", "image"},
		Strategy:   StrategyDualEncoder,
	},
	"siglip-base-patch16": {
		Dimension:  768,
		Modalities: []string{"text", "image"},
		Strategy:   StrategyJoint,
	},
	"colbert-v2": {
		Dimension:  128,
		Modalities: []string{"text"},
		Strategy:   StrategyLateInteraction,
	},
	"bge-reranker-v2-m3": {
		Dimension:  0,
		Modalities: []string{"text"},
		Strategy:   StrategySingleVector,
		Rerank:     true,
	},
	"jina-reranker-m0": {
		Dimension:  0,
		Modalities: []string{"text", "image"},
		Strategy:   StrategySingleVector,
		Rerank:     true,
	},
}

// LoadRegistry returns the embedding model registry. When
// LIBRARIAN_EMBEDDING_MODELS_PATH points at a JSON file it is loaded instead
// of the builtin table, so a sidecar with extra models stays authoritative.
func LoadRegistry() (map[string]ModelEntry, error) {
	path := os.Getenv("LIBRARIAN_EMBEDDING_MODELS_PATH")
	if path == "" {
		return builtinRegistry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read model registry %s: %w", path, err)
	}

	registry := make(map[string]ModelEntry)
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("config: failed to parse model registry %s: %w", path, err)
	}
	return registry, nil
}

// RerankerSupportsImage reports whether the configured reranker model can
// score (query, image) pairs. Derived from the registry, never configured.
func (c *Config) RerankerSupportsImage() bool {
	registry, err := LoadRegistry()
	if err != nil {
		return false
	}
	entry, ok := registry[c.Reranker.Model]
	return ok && entry.Rerank && entry.SupportsImage()
}
