package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys used alongside the chunk metadata. Qdrant point IDs must be
// UUIDs, so the logical chunk ID lives in the payload and the point ID is
// derived from it deterministically.
const (
	payloadContent = "content"
	payloadChunkID = "id"
)

// qdrantIDNamespace is the UUIDv5 namespace for deriving point IDs from
// logical chunk IDs. Fixed so re-ingesting the same chunk overwrites the
// same point.
var qdrantIDNamespace = uuid.MustParse("8b4b21b4-6f0e-4d6a-9c3e-2f1a4b0d7e55")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// pointID derives the deterministic UUID point ID for a logical chunk ID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(qdrantIDNamespace, []byte(chunkID)).String()
}

// metadataFilter builds a Qdrant filter matching every key/value pair exactly.
func metadataFilter(filter map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

// AddBatch upserts a batch of chunks with their pre-computed embeddings.
func (s *QdrantStore) AddBatch(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]interface{}{
			payloadContent: c.Text,
			payloadChunkID: c.ID,
		}
		for k, v := range c.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %v", ErrStore, err)
	}

	return nil
}

// GetByMetadata scrolls the collection for all points whose payload matches
// every key/value pair in filter. Embeddings are not fetched.
func (s *QdrantStore) GetByMetadata(ctx context.Context, filter map[string]string) ([]Chunk, error) {
	const pageSize = 256

	var (
		out    []Chunk
		offset *qdrant.PointId
		lastID string
	)
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter:         metadataFilter(filter),
			Limit:          qdrant.PtrOf(uint32(pageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll failed: %w: %v", ErrStore, err)
		}

		added := 0
		for _, p := range points {
			// The scroll offset is a start ID, so the first point of a
			// follow-up page may repeat the previous page's last point.
			if p.Id.GetUuid() == lastID {
				continue
			}
			out = append(out, chunkFromPayload(p.Payload))
			added++
		}
		if len(points) < pageSize || added == 0 {
			return out, nil
		}
		last := points[len(points)-1]
		lastID = last.Id.GetUuid()
		offset = last.Id
	}
}

// DeleteByMetadata removes all points matching filter and returns how many
// were removed. The count is taken before deletion; Qdrant's delete API does
// not report it.
func (s *QdrantStore) DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         metadataFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w: %v", ErrStore, err)
	}
	if count == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(metadataFilter(filter)),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete failed: %w: %v", ErrStore, err)
	}

	return int(count), nil
}

// QueryNearest performs a cosine similarity search and returns up to n
// results closest-first. Qdrant reports cosine similarity as the score, so
// the distance is 1 - score.
func (s *QdrantStore) QueryNearest(ctx context.Context, embedding []float32, n int) ([]SearchResult, error) {
	limit := uint64(n)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w: %v", ErrStore, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		c := chunkFromPayload(r.Payload)
		out = append(out, SearchResult{
			Text:     c.Text,
			Metadata: c.Metadata,
			Distance: 1 - float64(r.Score),
		})
	}

	return out, nil
}

// chunkFromPayload rebuilds a Chunk (without embedding) from a point payload.
func chunkFromPayload(payload map[string]*qdrant.Value) Chunk {
	c := Chunk{Metadata: make(map[string]string)}
	for k, v := range payload {
		switch k {
		case payloadContent:
			c.Text = v.GetStringValue()
		case payloadChunkID:
			c.ID = v.GetStringValue()
		default:
			c.Metadata[k] = v.GetStringValue()
		}
	}
	return c
}

// Ping calls the Qdrant HealthCheck RPC so the store can serve as a
// readiness probe.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("rag: qdrant health check failed: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
