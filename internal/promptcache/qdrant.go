package promptcache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the connection to the L2 vector store.
type QdrantConfig struct {
	Host string
	Port int
}

// QdrantStore implements VectorStore against a real Qdrant instance. All
// calls are best-effort: a failure to reach Qdrant degrades the cache to
// L1-only rather than failing the request, matching the router's policy of
// treating the semantic cache as an optional accelerator.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore dials the configured Qdrant instance.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// EnsureCollection creates the prompt cache collection if it does not
// already exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, VectorCollection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: VectorCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     EmbeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Search runs a cosine-similarity query and returns the best match above
// scoreThreshold, or nil if nothing qualifies.
func (q *QdrantStore) Search(ctx context.Context, vector []float32, scoreThreshold float32) (*VectorMatch, error) {
	limit := uint64(1)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: VectorCollection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	payload := results[0].GetPayload()
	entry := Entry{
		Prompt:   payload["prompt"].GetStringValue(),
		Response: payload["response"].GetStringValue(),
		Model:    payload["model"].GetStringValue(),
		Hits:     payload["hits"].GetIntegerValue(),
	}
	if ts, err := time.Parse(time.RFC3339, payload["created_at"].GetStringValue()); err == nil {
		entry.CreatedAt = ts
	}
	return &VectorMatch{Entry: entry, Score: results[0].GetScore()}, nil
}

// Upsert stores entry's payload alongside its embedding, keyed by a fresh
// point ID (Qdrant points are addressed by UUID, not by the cache's hash
// key, so promptHash travels in the payload for debugging only).
func (q *QdrantStore) Upsert(ctx context.Context, id string, vector []float32, entry Entry, promptHash string) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(uuid.NewString()),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"prompt_hash": promptHash,
			"prompt":      entry.Prompt,
			"response":    entry.Response,
			"model":       entry.Model,
			"created_at":  entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"hits":        entry.Hits,
		}),
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: VectorCollection,
		Points:         []*qdrant.PointStruct{point},
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Clear deletes and recreates the collection.
func (q *QdrantStore) Clear(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, VectorCollection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Count reports the number of points currently stored.
func (q *QdrantStore) Count(ctx context.Context) (int64, error) {
	info, err := q.client.GetCollectionInfo(ctx, VectorCollection)
	if err != nil {
		return 0, fmt.Errorf("get collection info: %w", err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int64(*info.PointsCount), nil
}
