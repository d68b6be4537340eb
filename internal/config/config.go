// Package config provides configuration loading for recalld.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration. Fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the memory engine.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Archive    ArchiveConfig    `koanf:"archive"`
	Cache      CacheConfig      `koanf:"cache"`
	Semantic   SemanticConfig   `koanf:"semantic"`
	Graph      GraphConfig      `koanf:"graph"`
	Privacy    PrivacyConfig    `koanf:"privacy"`
	Importance ImportanceConfig `koanf:"importance"`
	Insight    InsightConfig    `koanf:"insight"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Server     ServerConfig     `koanf:"server"`
}

// LoggingConfig controls zap logger construction.
type LoggingConfig struct {
	// Level is the minimum log level ("trace", "debug", "info", "warn", "error").
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// ArchiveConfig configures the durable SQLite archive, the source of truth
// for memory records, privacy preferences and the audit log.
type ArchiveConfig struct {
	// Path is the SQLite database file path.
	Path string `koanf:"path"`
}

// CacheConfig configures the recent-turn cache tier.
type CacheConfig struct {
	Enabled bool `koanf:"enabled"`
	// MaxEntriesPerUser caps the per-user recency buffer.
	MaxEntriesPerUser int `koanf:"max_entries_per_user"`
	// MaxCost is the total cache cost budget (number of buffered records).
	MaxCost int64 `koanf:"max_cost"`
	// TTL is how long an idle user buffer stays resident.
	TTL Duration `koanf:"ttl"`
}

// SemanticConfig configures the semantic similarity tier.
type SemanticConfig struct {
	Enabled bool `koanf:"enabled"`
	// Provider selects the backing index: "chromem" (embedded) or "qdrant".
	Provider string `koanf:"provider"`
	// Path is the persistence directory for the embedded provider.
	Path string `koanf:"path"`
	// VectorSize must match the embedder's output dimension.
	VectorSize int `koanf:"vector_size"`
	// Qdrant holds remote provider settings, used when Provider is "qdrant".
	Qdrant QdrantConfig `koanf:"qdrant"`
	// Embedder selects the embedding provider: "local", "ollama", "openai".
	Embedder EmbedderConfig `koanf:"embedder"`
}

// QdrantConfig holds Qdrant gRPC client settings.
type QdrantConfig struct {
	Host string `koanf:"host"`
	// Port is the gRPC port (6334), not the HTTP REST port.
	Port   int  `koanf:"port"`
	UseTLS bool `koanf:"use_tls"`
	// Collection is the collection holding memory vectors.
	Collection string `koanf:"collection"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// GraphConfig configures the relationship graph tier.
type GraphConfig struct {
	Enabled bool `koanf:"enabled"`
	// MaxNeighbors caps linked records returned per seed topic.
	MaxNeighbors int `koanf:"max_neighbors"`
}

// PrivacyConfig configures boundary enforcement and auditing.
type PrivacyConfig struct {
	// PreferenceStore selects the preference/audit backend: "sqlite" or "file".
	PreferenceStore string `koanf:"preference_store"`
	// FilePath is the directory for the file-backed store.
	FilePath string `koanf:"file_path"`
	// AuditRetention is how long audit entries are kept before pruning.
	AuditRetention Duration `koanf:"audit_retention"`
	// ConsentTTL is how long a consent request stays open before it expires
	// as an implicit deny.
	ConsentTTL Duration `koanf:"consent_ttl"`
}

// ImportanceConfig holds scoring weights. Weights are configuration, not
// hard-coded; the combination is a weighted sum clipped to [0,1].
type ImportanceConfig struct {
	EmotionalWeight    float64 `koanf:"emotional_weight"`
	PersonalWeight     float64 `koanf:"personal_weight"`
	RelationshipWeight float64 `koanf:"relationship_weight"`
	ReferenceWeight    float64 `koanf:"reference_weight"`
	RecencyWeight      float64 `koanf:"recency_weight"`
	UniquenessWeight   float64 `koanf:"uniqueness_weight"`
	// RecencyHalfLife controls the recency decay sub-signal.
	RecencyHalfLife Duration `koanf:"recency_half_life"`
}

// InsightConfig configures pattern detection and network analysis.
type InsightConfig struct {
	// MaxMemories caps the analyzed subset; above it, selection is balanced
	// half-by-importance / half-by-recency.
	MaxMemories int `koanf:"max_memories"`
	// MinConfidence is the emission threshold for detected patterns.
	MinConfidence float64 `koanf:"min_confidence"`
	// MinFrequency is the minimum bucket count for temporal patterns.
	MinFrequency int `koanf:"min_frequency"`
	// AnalysisTimeout bounds the whole analysis pipeline.
	AnalysisTimeout Duration `koanf:"analysis_timeout"`
}

// RetrievalConfig bounds tier fan-out.
type RetrievalConfig struct {
	// InteractiveTimeout bounds interactive recall fan-out.
	InteractiveTimeout Duration `koanf:"interactive_timeout"`
	// DeepTimeout bounds deep analysis retrieval fan-out.
	DeepTimeout Duration `koanf:"deep_timeout"`
	// DefaultLimit is the result limit when the caller passes none.
	DefaultLimit int `koanf:"default_limit"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns a config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Archive: ArchiveConfig{
			Path: "~/.local/share/recalld/archive.db",
		},
		Cache: CacheConfig{
			Enabled:           true,
			MaxEntriesPerUser: 50,
			MaxCost:           100_000,
			TTL:               Duration(30 * time.Minute),
		},
		Semantic: SemanticConfig{
			Enabled:    true,
			Provider:   "chromem",
			Path:       "~/.local/share/recalld/vectors",
			VectorSize: 384,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "recalld_memories",
			},
			Embedder: EmbedderConfig{
				Provider: "local",
			},
		},
		Graph: GraphConfig{
			Enabled:      true,
			MaxNeighbors: 10,
		},
		Privacy: PrivacyConfig{
			PreferenceStore: "sqlite",
			FilePath:        "~/.local/share/recalld/privacy",
			AuditRetention:  Duration(90 * 24 * time.Hour),
			ConsentTTL:      Duration(5 * time.Minute),
		},
		Importance: ImportanceConfig{
			EmotionalWeight:    0.25,
			PersonalWeight:     0.20,
			RelationshipWeight: 0.15,
			ReferenceWeight:    0.15,
			RecencyWeight:      0.15,
			UniquenessWeight:   0.10,
			RecencyHalfLife:    Duration(7 * 24 * time.Hour),
		},
		Insight: InsightConfig{
			MaxMemories:     50,
			MinConfidence:   0.6,
			MinFrequency:    2,
			AnalysisTimeout: Duration(60 * time.Second),
		},
		Retrieval: RetrievalConfig{
			InteractiveTimeout: Duration(800 * time.Millisecond),
			DeepTimeout:        Duration(60 * time.Second),
			DefaultLimit:       10,
		},
		Server: ServerConfig{
			Addr:            ":8575",
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Validate checks the configuration for fatal errors.
func (c *Config) Validate() error {
	if c.Archive.Path == "" {
		return fmt.Errorf("%w: archive.path is required", ErrInvalidConfig)
	}
	switch c.Semantic.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown semantic provider %q", ErrInvalidConfig, c.Semantic.Provider)
	}
	if c.Semantic.Enabled && c.Semantic.VectorSize <= 0 {
		return fmt.Errorf("%w: semantic.vector_size must be positive", ErrInvalidConfig)
	}
	if c.Semantic.Provider == "qdrant" {
		if c.Semantic.Qdrant.Host == "" {
			return fmt.Errorf("%w: semantic.qdrant.host is required", ErrInvalidConfig)
		}
		if c.Semantic.Qdrant.Port <= 0 || c.Semantic.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid semantic.qdrant.port %d", ErrInvalidConfig, c.Semantic.Qdrant.Port)
		}
	}
	switch c.Privacy.PreferenceStore {
	case "sqlite", "file":
	default:
		return fmt.Errorf("%w: unknown privacy.preference_store %q", ErrInvalidConfig, c.Privacy.PreferenceStore)
	}
	if err := c.Importance.Validate(); err != nil {
		return err
	}
	if c.Insight.MinConfidence < 0 || c.Insight.MinConfidence > 1 {
		return fmt.Errorf("%w: insight.min_confidence must be in [0,1]", ErrInvalidConfig)
	}
	if c.Insight.MaxMemories <= 0 {
		return fmt.Errorf("%w: insight.max_memories must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.DefaultLimit <= 0 {
		return fmt.Errorf("%w: retrieval.default_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// Validate checks the scoring weights.
func (c ImportanceConfig) Validate() error {
	weights := []struct {
		name  string
		value float64
	}{
		{"emotional_weight", c.EmotionalWeight},
		{"personal_weight", c.PersonalWeight},
		{"relationship_weight", c.RelationshipWeight},
		{"reference_weight", c.ReferenceWeight},
		{"recency_weight", c.RecencyWeight},
		{"uniqueness_weight", c.UniquenessWeight},
	}
	var sum float64
	for _, w := range weights {
		if w.value < 0 {
			return fmt.Errorf("%w: importance.%s cannot be negative", ErrInvalidConfig, w.name)
		}
		sum += w.value
	}
	if sum == 0 {
		return fmt.Errorf("%w: importance weights cannot all be zero", ErrInvalidConfig)
	}
	return nil
}
