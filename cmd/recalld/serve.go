package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/boundary"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/httpapi"
	"github.com/fyrsmithlabs/recalld/internal/importance"
	"github.com/fyrsmithlabs/recalld/internal/insight"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/service"
	"github.com/fyrsmithlabs/recalld/internal/tier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recalld daemon",
	Long: `Start the recalld HTTP server with full service initialization:
storage tiers, boundary enforcement, importance scoring and the insight
engine. Shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

// run initializes every dependency, starts the HTTP server, and blocks
// until the context is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting recalld",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr))

	engine, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn(ctx, "engine close failed", zap.Error(err))
		}
	}()

	srv, err := httpapi.NewServer(engine, logger, &httpapi.Config{Addr: cfg.Server.Addr})
	if err != nil {
		return fmt.Errorf("initialize http server: %w", err)
	}

	// Periodic audit retention pruning.
	pruneDone := make(chan struct{})
	go func() {
		defer close(pruneDone)
		auditPruneLoop(ctx, engine, time.Duration(cfg.Privacy.AuditRetention), logger)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "http shutdown failed", zap.Error(err))
		}
	}

	<-pruneDone
	logger.Info(ctx, "recalld shutdown complete")
	return nil
}

// auditPruneLoop prunes expired audit entries daily until the context is
// cancelled.
func auditPruneLoop(ctx context.Context, engine *service.Engine, retention time.Duration, logger *logging.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := engine.PruneAudit(ctx, retention)
			if err != nil {
				logger.Warn(ctx, "audit pruning failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				logger.Info(ctx, "pruned expired audit entries", zap.Int64("count", pruned))
			}
		}
	}
}

// buildEngine constructs the full service engine from configuration.
func buildEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*service.Engine, error) {
	archivePath, err := config.ExpandPath(cfg.Archive.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	// Preference and audit storage.
	prefStore, auditStore, err := buildPrivacyStores(cfg, archivePath)
	if err != nil {
		return nil, err
	}

	boundaries := boundary.NewManager(prefStore, auditStore,
		boundary.WithLogger(logger.Named("boundary")),
		boundary.WithConsentTTL(time.Duration(cfg.Privacy.ConsentTTL)))

	// Storage tiers.
	archive, err := tier.NewArchive(archivePath)
	if err != nil {
		return nil, err
	}

	var cache *tier.Cache
	if cfg.Cache.Enabled {
		cache, err = tier.NewCache(tier.CacheConfig{
			MaxEntriesPerUser: cfg.Cache.MaxEntriesPerUser,
			MaxCost:           cfg.Cache.MaxCost,
			TTL:               time.Duration(cfg.Cache.TTL),
		})
		if err != nil {
			return nil, err
		}
	}

	extras, err := buildExtraTiers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	coordinator, err := tier.NewCoordinator(archive, cache, extras, boundaries,
		tier.CoordinatorConfig{
			InteractiveTimeout: time.Duration(cfg.Retrieval.InteractiveTimeout),
			DeepTimeout:        time.Duration(cfg.Retrieval.DeepTimeout),
			DefaultLimit:       cfg.Retrieval.DefaultLimit,
		}, logger.Named("tier"))
	if err != nil {
		return nil, err
	}

	scorer := importance.NewScorer(importance.Weights{
		Emotional:       cfg.Importance.EmotionalWeight,
		Personal:        cfg.Importance.PersonalWeight,
		Relationship:    cfg.Importance.RelationshipWeight,
		Reference:       cfg.Importance.ReferenceWeight,
		Recency:         cfg.Importance.RecencyWeight,
		Uniqueness:      cfg.Importance.UniquenessWeight,
		RecencyHalfLife: time.Duration(cfg.Importance.RecencyHalfLife),
	})

	insights, err := insight.NewEngine(archive, scorer, insight.EngineConfig{
		MaxMemories:     cfg.Insight.MaxMemories,
		AnalysisTimeout: time.Duration(cfg.Insight.AnalysisTimeout),
		Detector: insight.DetectorConfig{
			MinConfidence: cfg.Insight.MinConfidence,
			MinFrequency:  cfg.Insight.MinFrequency,
		},
	}, logger.Named("insight"))
	if err != nil {
		return nil, err
	}

	return service.NewEngine(boundary.NewClassifier(), boundaries, coordinator,
		scorer, insights, auditStore, logger.Named("service"))
}

// buildPrivacyStores selects the preference/audit backend.
func buildPrivacyStores(cfg *config.Config, archivePath string) (privacy.PreferenceStore, privacy.AuditStore, error) {
	switch cfg.Privacy.PreferenceStore {
	case "file":
		filePath, err := config.ExpandPath(cfg.Privacy.FilePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := privacy.NewFileStore(filePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		store, err := privacy.NewSQLiteStore(archivePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}

// buildExtraTiers constructs the optional semantic and graph tiers.
func buildExtraTiers(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]tier.Tier, error) {
	var extras []tier.Tier

	if cfg.Semantic.Enabled {
		embedder, err := buildEmbedder(cfg)
		if err != nil {
			return nil, err
		}

		switch cfg.Semantic.Provider {
		case "qdrant":
			semantic, err := tier.NewQdrant(ctx, tier.QdrantConfig{
				Host:       cfg.Semantic.Qdrant.Host,
				Port:       cfg.Semantic.Qdrant.Port,
				UseTLS:     cfg.Semantic.Qdrant.UseTLS,
				Collection: cfg.Semantic.Qdrant.Collection,
				VectorSize: cfg.Semantic.VectorSize,
			}, embedder, logger.Named("qdrant"))
			if err != nil {
				return nil, err
			}
			extras = append(extras, semantic)
		default:
			path, err := config.ExpandPath(cfg.Semantic.Path)
			if err != nil {
				return nil, err
			}
			semantic, err := tier.NewSemantic(tier.SemanticConfig{Path: path},
				embedder, logger.Named("semantic"))
			if err != nil {
				return nil, err
			}
			extras = append(extras, semantic)
		}
	}

	if cfg.Graph.Enabled {
		extras = append(extras, tier.NewGraph(tier.GraphConfig{
			MaxNeighbors: cfg.Graph.MaxNeighbors,
		}))
	}
	return extras, nil
}

// buildEmbedder selects the embedding provider.
func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	e := cfg.Semantic.Embedder
	switch e.Provider {
	case "", "local":
		return embed.NewLocalEmbedder(cfg.Semantic.VectorSize), nil
	case "ollama":
		return embed.NewOllamaEmbedder(e.BaseURL, e.Model), nil
	case "openai":
		return embed.NewOpenAIEmbedder(e.BaseURL, e.APIKey, e.Model, cfg.Semantic.VectorSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", config.ErrInvalidConfig, e.Provider)
	}
}
