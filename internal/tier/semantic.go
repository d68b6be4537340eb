package tier

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var collectionNameSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

// SemanticConfig holds configuration for the embedded semantic tier.
type SemanticConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// Semantic is the similarity-search tier, backed by the embedded chromem-go
// vector database with one collection per user.
type Semantic struct {
	db       *chromem.DB
	embedder embed.Embedder
	logger   *logging.Logger

	// collections caches per-user collection handles.
	collections sync.Map
}

// NewSemantic creates the semantic tier.
func NewSemantic(config SemanticConfig, embedder embed.Embedder, logger *logging.Logger) (*Semantic, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrTierUnavailable)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err = os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create vectorstore dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem DB: %w", err)
		}
	}

	return &Semantic{db: db, embedder: embedder, logger: logger}, nil
}

// Name identifies the tier.
func (s *Semantic) Name() string { return TierSemantic }

// collectionName builds a per-user collection name safe for persistence.
func collectionName(userID string) string {
	sanitized := collectionNameSanitizer.ReplaceAllString(strings.ToLower(userID), "_")
	if len(sanitized) > 56 {
		sanitized = sanitized[:56]
	}
	return "user_" + sanitized
}

func (s *Semantic) collection(userID string) (*chromem.Collection, error) {
	name := collectionName(userID)
	if col, ok := s.collections.Load(name); ok {
		return col.(*chromem.Collection), nil
	}

	// Embeddings are supplied explicitly per document, so no embedding
	// function is registered on the collection.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get collection: %v", ErrTierUnavailable, err)
	}
	s.collections.Store(name, col)
	return col, nil
}

// Store embeds the record and adds it to the user's collection.
func (s *Semantic) Store(ctx context.Context, rec *memory.Record) error {
	col, err := s.collection(rec.UserID)
	if err != nil {
		return err
	}

	text := rec.Content
	if rec.Response != "" {
		text += "\n" + rec.Response
	}
	embedding, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: embedding,
		Metadata:  recordMetadata(rec),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Retrieve runs similarity search over the user's collection.
func (s *Semantic) Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrTierUnavailable, err)
	}

	recs := make([]memory.Record, 0, len(results))
	for _, res := range results {
		rec, err := recordFromMetadata(res.ID, res.Content, res.Metadata)
		if err != nil {
			s.logger.Warn(ctx, "skipping semantic result with bad metadata",
				zap.String("doc_id", res.ID), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close is a no-op; chromem persists on write.
func (s *Semantic) Close() error {
	return nil
}

// recordMetadata flattens a record into chromem string metadata.
func recordMetadata(rec *memory.Record) map[string]string {
	md := map[string]string{
		"user_id":     rec.UserID,
		"response":    rec.Response,
		"ts":          rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"ctx_kind":    string(rec.Context.Kind),
		"ctx_group":   rec.Context.GroupID,
		"ctx_channel": rec.Context.ChannelID,
		"importance":  strconv.FormatFloat(rec.ImportanceScore, 'f', -1, 64),
	}
	if len(rec.Tags) > 0 {
		md["tags"] = strings.Join(rec.Tags, ",")
	}
	return md
}

// recordFromMetadata rebuilds a record from stored metadata.
func recordFromMetadata(id, content string, md map[string]string) (memory.Record, error) {
	rec := memory.Record{
		ID:       id,
		UserID:   md["user_id"],
		Content:  content,
		Response: md["response"],
	}

	ts, err := time.Parse(time.RFC3339Nano, md["ts"])
	if err != nil {
		return rec, fmt.Errorf("decode timestamp: %w", err)
	}
	rec.Timestamp = ts

	kind := memory.ContextKind(md["ctx_kind"])
	level := memory.LevelForKind(kind)
	rec.Context = memory.Context{
		Kind:      kind,
		GroupID:   md["ctx_group"],
		ChannelID: md["ctx_channel"],
		IsPrivate: level != memory.LevelPublicGroup,
		Level:     level,
	}

	if raw, ok := md["importance"]; ok {
		if score, err := strconv.ParseFloat(raw, 64); err == nil {
			rec.ImportanceScore = score
		}
	}
	if raw, ok := md["tags"]; ok && raw != "" {
		rec.Tags = strings.Split(raw, ",")
	}
	return rec, nil
}
