package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sandevgo/memctx/internal/chunker"
	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/providers/embedding"
	"github.com/sandevgo/memctx/internal/service/compose"
	"github.com/sandevgo/memctx/internal/service/episode"
	"github.com/sandevgo/memctx/internal/service/memory"
	"github.com/sandevgo/memctx/internal/service/recovery"
	"github.com/sandevgo/memctx/internal/service/retrieval"
	"github.com/sandevgo/memctx/internal/storage/sqlite"
	"github.com/sandevgo/memctx/internal/transport/mcpserver"
	"github.com/sandevgo/memctx/pkg/log"
	"github.com/sandevgo/memctx/pkg/srv"
)

// NewServices wires the full engine and returns the service set for
// the start command.
func NewServices(ctx context.Context) []srv.Service {
	engine, monitor, cleanup := buildEngine(ctx)

	services := []srv.Service{
		srv.NewCleanup(cleanup),
		monitor,
		mcpserver.New(engine),
	}
	return services
}

// buildEngine is the composition root shared by the serve and stats
// commands.
func buildEngine(ctx context.Context) (*memory.Engine, *memory.QualityMonitor, func() error) {
	logger := log.FromCtx(ctx)

	appCfg := config.NewAppConfig(ctx)

	if err := initEnv(ctx, appCfg.GetRuntimePath()); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	chunkCfg := config.NewChunkerConfig(ctx)
	embedCfg := config.NewEmbeddingConfig(ctx)
	retrCfg := config.NewRetrievalConfig(ctx)
	composeCfg := config.NewComposeConfig(ctx)
	recCfg := config.NewRecoveryConfig(ctx)

	db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	episodeRepo := sqlite.NewEpisodeRepo(db)
	outcomeRepo := sqlite.NewOutcomeRepo(db)
	adjustRepo := sqlite.NewAdjustmentRepo(db)
	tierRepo := sqlite.NewTierRepo(db)

	embedder := embedding.NewClient(embedCfg)
	if err := embedder.Health(ctx); err != nil {
		// The engine degrades retrieval without embeddings; starting
		// anyway keeps outcome recording and composition available.
		logger.Warn().Err(err).Str("base_url", embedCfg.BaseURL).Msg("embedding service unreachable")
	}

	store := episode.NewStore(episodeRepo, composeCfg.EpisodeCacheSize)
	adjuster := retrieval.NewAdjuster(retrCfg, outcomeRepo, adjustRepo)
	bridge := recovery.NewTierBridge(recCfg, tierRepo)

	engine := memory.NewEngine(memory.Deps{
		Chunker:   chunker.New(chunkCfg),
		Embedder:  embedder,
		Store:     store,
		Retriever: retrieval.NewRetriever(store, retrCfg),
		Filter:    retrieval.NewInjectionFilter(retrCfg, adjuster),
		Calc:      retrieval.NewCalculator(retrCfg),
		Adjuster:  adjuster,
		Tracker:   retrieval.NewTracker(outcomeRepo),
		Composer:  compose.NewEngine(composeCfg),
		Detector:  recovery.NewDetector(recCfg),
		Rebuilder: recovery.NewReconstructor(recCfg, bridge, embedder),
	})

	monitor := memory.NewQualityMonitor(adjuster, appCfg.QualityMonitorIntervalMin)

	return engine, monitor, db.Close
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
