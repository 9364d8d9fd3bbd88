package core

import (
	"context"
	"time"
)

// EpisodeRepository is the durable, append-only episode store.
// Implementations retry transient failures internally; inserts are
// idempotent by episode id.
type EpisodeRepository interface {
	InsertEpisode(ctx context.Context, ep Episode) error
	GetEpisode(ctx context.Context, id string) (Episode, error)
	ListEpisodes(ctx context.Context) ([]Episode, error)
	CountEpisodes(ctx context.Context) (int, error)
	DeprecateEpisode(ctx context.Context, id string) error
	// DeleteEpisode and ClearEpisodes exist so the forbidden-ness is
	// visible in the contract: they always return *AppendOnlyError.
	DeleteEpisode(ctx context.Context, id string) error
	ClearEpisodes(ctx context.Context) error
}

// OutcomeRepository persists outcomes and maintains per-episode stats
// incrementally, so reads never rescan the outcome log.
type OutcomeRepository interface {
	InsertOutcome(ctx context.Context, o Outcome) error
	ListOutcomes(ctx context.Context, episodeID string) ([]Outcome, error)
	GetStats(ctx context.Context, episodeID string) (EpisodeStats, error)
	// CategorySuccess aggregates outcome counts for a category since a
	// point in time, feeding the threshold adjuster.
	CategorySuccess(ctx context.Context, category WorkflowCategory, since time.Time) (samples int, successRate float64, err error)
	// DeleteOutcomes always returns *AppendOnlyError.
	DeleteOutcomes(ctx context.Context, episodeID string) error
}

// AdjustmentRepository persists every applied and rejected threshold
// adjustment.
type AdjustmentRepository interface {
	InsertAdjustment(ctx context.Context, adj ThresholdAdjustment) error
	ListAdjustments(ctx context.Context, category WorkflowCategory, since time.Time) ([]ThresholdAdjustment, error)
	CurrentThreshold(ctx context.Context, category WorkflowCategory) (float64, bool, error)
}

// TierRepository is the persistent backing for the warm and cold
// tiers. Tier items are ephemeral working state, so deletion is
// allowed here, unlike the episodic log.
type TierRepository interface {
	PutTierItem(ctx context.Context, tier TierName, item TierItem) error
	GetTierItem(ctx context.Context, tier TierName, key string) (TierItem, error)
	DeleteTierItem(ctx context.Context, tier TierName, key string) error
	ListTierKeys(ctx context.Context, tier TierName) ([]string, error)
	TierFootprint(ctx context.Context, tier TierName) (items int, bytes int64, err error)
}

// Embedder turns texts into fixed-length L2-normalized vectors. The
// single true I/O suspension point in the engine.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Health(ctx context.Context) error
}
