package store

import "time"

// SourceKind identifies how a source's content is acquired.
type SourceKind string

const (
	// KindDirectory is a recursive local filesystem walk.
	KindDirectory SourceKind = "directory"
	// KindURL is a seeded breadth-first web crawl.
	KindURL SourceKind = "url"
	// KindSitemap is a sitemap.xml or plain URL-list fetch.
	KindSitemap SourceKind = "sitemap"
)

// Modality distinguishes text chunks from image chunks. It determines which
// cleanup and embedding path applies.
type Modality string

const (
	// ModalityText is a text chunk.
	ModalityText Modality = "text"
	// ModalityImage is an image chunk.
	ModalityImage Modality = "image"
)

// Operation identifies the kind of pipeline invocation recorded on a run.
type Operation string

const (
	// OpIngest is a first-time or additive ingestion; unseen documents are kept.
	OpIngest Operation = "ingest"
	// OpUpdate is an incremental re-ingestion; unseen documents are pruned.
	OpUpdate Operation = "update"
	// OpReindex forces re-chunking and re-embedding regardless of content hash.
	OpReindex Operation = "reindex"
)

// RunStatus is the terminal status of an ingestion run.
type RunStatus string

const (
	// StatusRunning marks a run that has not finished yet.
	StatusRunning RunStatus = "running"
	// StatusSucceeded marks a run that completed with zero errors.
	StatusSucceeded RunStatus = "succeeded"
	// StatusPartiallyFailed marks a run that completed with item-level errors.
	StatusPartiallyFailed RunStatus = "partially_failed"
	// StatusFailed marks a run aborted by a source-level error.
	StatusFailed RunStatus = "failed"
	// StatusCancelled marks a run stopped by caller cancellation.
	StatusCancelled RunStatus = "cancelled"
)

// Source is a named acquisition root. (kind, location) is unique.
type Source struct {
	// ID is the stable opaque identifier.
	ID string
	// Name is the human-facing source name.
	Name string
	// Kind is how content is acquired.
	Kind SourceKind
	// Location is the root path or URL.
	Location string
	// CreatedAt is when the source row was created.
	CreatedAt time.Time
	// LastSuccessAt is the finish time of the last successful run, if any.
	LastSuccessAt *time.Time
}

// Document is one logical unit of content inside a source. For every
// (source_id, URI) pair there is at most one row; re-observation updates the
// row in place and preserves its id.
type Document struct {
	// ID is the canonical stable identifier for this (source, URI).
	ID string
	// SourceID is the owning source.
	SourceID string
	// URI is the filesystem path or fetched URL.
	URI string
	// ContentType is the detected content type.
	ContentType string
	// Title is the derived document title.
	Title string
	// ByteLen is the normalized body length in bytes.
	ByteLen int64
	// ContentHash is the hex SHA-256 of the normalized body.
	ContentHash string
	// FetchedAt is when the body was last acquired.
	FetchedAt time.Time
}

// Chunk is a bounded text or image segment of a document. Ordinals are dense
// and monotonic per (doc_id, modality).
type Chunk struct {
	// ID is the stable chunk identifier.
	ID string
	// DocID is the owning document's canonical id.
	DocID string
	// Ordinal is the position within (doc, modality), starting at 0.
	Ordinal int
	// Modality is text or image.
	Modality Modality
	// Content is the chunk text. Empty for image chunks.
	Content string
	// MediaURL is the image source URL. Empty for text chunks.
	MediaURL string
	// MediaHash is the hex SHA-256 of the image bytes. Empty for text chunks.
	MediaHash string
	// ContentHash is the hex SHA-256 of the chunk's hash input.
	ContentHash string
	// StartOffset and EndOffset are character offsets into the normalized text.
	StartOffset int
	EndOffset   int
	// PointID is the deterministic vector-store point id for this chunk.
	PointID string
	// NumChars is the chunk length in characters.
	NumChars int
}

// RunCounters aggregates per-run pipeline statistics.
type RunCounters struct {
	DocsSeen      int64
	DocsChanged   int64
	ChunksAdded   int64
	ChunksRemoved int64
	BytesFetched  int64
	Errors        int64
}

// Run is the bookkeeping record of one pipeline invocation. Runs are created
// at pipeline start, closed at pipeline end, and never mutated afterward.
type Run struct {
	// ID is the run identifier.
	ID string
	// SourceID is the source this run operated on.
	SourceID string
	// Operation is ingest, update, or reindex.
	Operation Operation
	// Interactive records whether the invocation was allowed to prompt.
	Interactive bool
	// StartedAt is when the run opened.
	StartedAt time.Time
	// FinishedAt is when the run closed; nil while running.
	FinishedAt *time.Time
	// Counters are the aggregated statistics for the run.
	Counters RunCounters
	// Status is the terminal status; StatusRunning until closed.
	Status RunStatus
}
