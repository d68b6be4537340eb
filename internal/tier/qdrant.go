package tier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// QdrantConfig holds configuration for the remote semantic tier.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection holding memory vectors.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "recalld_memories"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Qdrant is a semantic tier backed by a remote Qdrant instance over gRPC.
// It implements the same Tier contract as the embedded chromem tier; the
// provider is selected at startup via configuration.
//
// All users share one collection; queries filter on the user_id payload
// field, so a missing filter can never return another user's memories.
type Qdrant struct {
	client   *qdrant.Client
	config   QdrantConfig
	embedder embed.Embedder
	logger   *logging.Logger
}

// NewQdrant connects to Qdrant and ensures the memory collection exists.
func NewQdrant(ctx context.Context, config QdrantConfig, embedder embed.Embedder, logger *logging.Logger) (*Qdrant, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrTierUnavailable)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect qdrant: %v", ErrTierUnavailable, err)
	}

	q := &Qdrant{client: client, config: config, embedder: embedder, logger: logger}
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", ErrTierUnavailable, err)
	}
	for _, name := range names {
		if name == q.config.Collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Name identifies the tier.
func (q *Qdrant) Name() string { return TierSemantic }

// pointID derives a stable UUID point ID from a record's ULID so re-stores
// upsert in place.
func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String())
}

// Store embeds the record and upserts it into the collection.
func (q *Qdrant) Store(ctx context.Context, rec *memory.Record) error {
	text := rec.Content
	if rec.Response != "" {
		text += "\n" + rec.Response
	}
	embedding, err := q.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	payload := make(map[string]*qdrant.Value, 9)
	payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.ID}}
	payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.Content}}
	for k, v := range recordMetadata(rec) {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Retrieve runs filtered similarity search for the user's memories.
func (q *Qdrant) Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	queryEmbedding, err := q.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.config.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "user_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: userID},
						},
					},
				},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrTierUnavailable, err)
	}

	recs := make([]memory.Record, 0, len(results))
	for _, point := range results {
		rec, err := recordFromPayload(point.Payload)
		if err != nil {
			q.logger.Warn(ctx, "skipping qdrant result with bad payload", zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// recordFromPayload rebuilds a record from point payload fields.
func recordFromPayload(payload map[string]*qdrant.Value) (memory.Record, error) {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}

	md := map[string]string{
		"user_id":     get("user_id"),
		"response":    get("response"),
		"ts":          get("ts"),
		"ctx_kind":    get("ctx_kind"),
		"ctx_group":   get("ctx_group"),
		"ctx_channel": get("ctx_channel"),
		"importance":  get("importance"),
		"tags":        get("tags"),
	}
	return recordFromMetadata(get("id"), get("content"), md)
}

// Ping verifies the Qdrant connection.
func (q *Qdrant) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}
