// Package vector wraps the external ANN store. The contract is small:
// idempotent collection creation, point upsert/delete (by id or by filter),
// cosine k-NN search with payload filtering, and an id scan used by the
// reconciler's orphan sweep. Point ids are deterministic UUIDv5 values
// derived from chunk ids so re-upserting an unchanged chunk overwrites its
// existing point instead of duplicating it.
package vector

import (
	"context"

	"github.com/google/uuid"
)

// pointNamespace seeds the deterministic point id derivation.
var pointNamespace = uuid.MustParse("e7b0f9d2-6c14-5a38-8e52-90bd3a71c4d6")

// PointID derives the vector-store point id for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Payload is the per-point metadata stored alongside the vector. It carries
// enough to reconstruct results without joining the metadata store.
type Payload struct {
	// SourceID identifies the owning source.
	SourceID string
	// DocID is the canonical document id.
	DocID string
	// ChunkID is the metadata-store chunk id.
	ChunkID string
	// URI is the document URI.
	URI string
	// Modality is "text" or "image".
	Modality string
	// Ordinal is the chunk position within (doc, modality).
	Ordinal int
	// ContentHash is the chunk content hash.
	ContentHash string
	// Title is the document title.
	Title string
	// Content is the chunk text (or the image caption for image chunks), kept
	// in the payload so lexical scoring needs no metadata-store join.
	Content string
}

// Point is one vector with its payload.
type Point struct {
	// ID is the opaque point id (see PointID).
	ID string
	// Vector is the embedding.
	Vector []float32
	// Payload is the point metadata.
	Payload Payload
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	// ID is the point id.
	ID string
	// Score is the cosine similarity score.
	Score float32
	// Payload is the stored point metadata.
	Payload Payload
}

// Filter scopes a search or deletion. Zero fields are ignored.
type Filter struct {
	// SourceID matches points of one source.
	SourceID string
	// DocID matches points of one document.
	DocID string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.SourceID == "" && f.DocID == "" }

// Store is the vector index contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// EnsureCollection creates the collection with the given dimension and
	// cosine distance if it does not already exist. Idempotent.
	EnsureCollection(ctx context.Context, dimension int) error

	// UpsertPoints stores or overwrites a batch of points.
	UpsertPoints(ctx context.Context, points []Point) error

	// DeletePoints removes points by id. Unknown ids are ignored.
	DeletePoints(ctx context.Context, ids []string) error

	// DeleteByFilter removes all points matching the filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Search returns the k nearest points to the query vector, optionally
	// restricted by filter, ordered by descending score.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]ScoredPoint, error)

	// ScanIDs streams every point id in the collection to fn. Used by the
	// reconciler's orphan sweep. fn returning an error stops the scan.
	ScanIDs(ctx context.Context, fn func(id string) error) error

	// Close releases the underlying connection.
	Close() error
}
