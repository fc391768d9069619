package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/sealad886/librarian/internal/config"
)

// QdrantStore implements Store backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the target collection name.
	collection string
}

// NewQdrantStore creates a new QdrantStore from the Qdrant configuration.
// The collection is created lazily by EnsureCollection so construction does
// not need to know the embedding dimension.
func NewQdrantStore(cfg *config.QdrantConfig) (*QdrantStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vector: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vector: failed to create collection %q: %w", s.collection, err)
	}
	return nil
}

// UpsertPoints stores or overwrites a batch of points.
func (s *QdrantStore) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payloadMap(p.Payload)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert failed: %w", err)
	}
	return nil
}

// DeletePoints removes points by id.
func (s *QdrantStore) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("vector: delete failed: %w", err)
	}
	return nil
}

// DeleteByFilter removes all points matching the filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	qf := buildFilter(filter)
	if qf == nil {
		return fmt.Errorf("vector: refusing to delete with an empty filter")
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by filter failed: %w", err)
	}
	return nil
}

// Search returns the k nearest points to the query vector.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]ScoredPoint, error) {
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: search failed: %w", err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredPoint{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: payloadFromMap(r.Payload),
		})
	}
	return out, nil
}

// scanPageSize is the Scroll page size of the orphan sweep.
const scanPageSize = uint32(256)

// ScanIDs streams every point id in the collection to fn.
func (s *QdrantStore) ScanIDs(ctx context.Context, fn func(id string) error) error {
	points := s.client.GetPointsClient()

	limit := scanPageSize
	var offset *qdrant.PointId
	for {
		resp, err := points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
		})
		if err != nil {
			return fmt.Errorf("vector: scroll failed: %w", err)
		}

		for _, p := range resp.GetResult() {
			if err := fn(p.GetId().GetUuid()); err != nil {
				return err
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter converts a Filter into a Qdrant filter, or nil when empty.
func buildFilter(filter Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.SourceID != "" {
		must = append(must, keywordCondition("source_id", filter.SourceID))
	}
	if filter.DocID != "" {
		must = append(must, keywordCondition("doc_id", filter.DocID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// keywordCondition builds an exact-match condition on a payload field.
func keywordCondition(key, value string) *qdrant.Condition {
	return qdrant.NewMatch(key, value)
}

// payloadMap flattens a Payload for storage.
func payloadMap(p Payload) map[string]any {
	return map[string]any{
		"source_id":    p.SourceID,
		"doc_id":       p.DocID,
		"chunk_id":     p.ChunkID,
		"uri":          p.URI,
		"modality":     p.Modality,
		"ordinal":      int64(p.Ordinal),
		"content_hash": p.ContentHash,
		"title":        p.Title,
		"content":      p.Content,
	}
}

// payloadFromMap reconstructs a Payload from stored values.
func payloadFromMap(m map[string]*qdrant.Value) Payload {
	if m == nil {
		return Payload{}
	}
	get := func(key string) string {
		if v, ok := m[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	p := Payload{
		SourceID:    get("source_id"),
		DocID:       get("doc_id"),
		ChunkID:     get("chunk_id"),
		URI:         get("uri"),
		Modality:    get("modality"),
		ContentHash: get("content_hash"),
		Title:       get("title"),
		Content:     get("content"),
	}
	if v, ok := m["ordinal"]; ok {
		p.Ordinal = int(v.GetIntegerValue())
	}
	return p
}
