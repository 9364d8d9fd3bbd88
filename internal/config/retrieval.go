package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// RetrievalConfig holds the similarity, safety-filter, and
// active-learning knobs. Per-category values are explicit here so no
// hidden process-wide defaults exist.
type RetrievalConfig struct {
	Threshold  float64 `env:"MEMCTX_RETRIEVAL_THRESHOLD" envDefault:"0.80"`
	MaxResults int     `env:"MEMCTX_RETRIEVAL_MAX_RESULTS" envDefault:"2"`

	CodingThreshold   float64 `env:"MEMCTX_THRESHOLD_CODING" envDefault:"0.92"`
	ResearchThreshold float64 `env:"MEMCTX_THRESHOLD_RESEARCH" envDefault:"0.80"`
	GeneralThreshold  float64 `env:"MEMCTX_THRESHOLD_GENERAL" envDefault:"0.85"`

	// Recency half-lives for the exponential decay applied before the
	// threshold check. Code goes stale faster than research notes.
	CodingHalfLife   time.Duration `env:"MEMCTX_HALFLIFE_CODING" envDefault:"168h"`
	ResearchHalfLife time.Duration `env:"MEMCTX_HALFLIFE_RESEARCH" envDefault:"720h"`
	GeneralHalfLife  time.Duration `env:"MEMCTX_HALFLIFE_GENERAL" envDefault:"336h"`

	// Active-learning bounds.
	MinAdjustmentSamples int           `env:"MEMCTX_ADJUST_MIN_SAMPLES" envDefault:"10"`
	AdjustmentStep       float64       `env:"MEMCTX_ADJUST_STEP" envDefault:"0.02"`
	AdjustmentBound      float64       `env:"MEMCTX_ADJUST_BOUND" envDefault:"0.05"`
	AdjustmentWindow     time.Duration `env:"MEMCTX_ADJUST_WINDOW" envDefault:"720h"`

	// Deprioritization multiplier for episodes with a failing track
	// record. Strictly between 0 and 1: the candidate sorts later but
	// is never suppressed.
	NegativeMultiplier float64 `env:"MEMCTX_NEGATIVE_MULTIPLIER" envDefault:"0.85"`

	ConfidenceTTL time.Duration `env:"MEMCTX_CONFIDENCE_TTL" envDefault:"60s"`
}

func NewRetrievalConfig(ctx context.Context) *RetrievalConfig {
	c := &RetrievalConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Retrieval config")
	}
	return c
}

// CategoryThreshold returns the configured base threshold for a
// workflow category.
func (c *RetrievalConfig) CategoryThreshold(cat core.WorkflowCategory) float64 {
	switch cat {
	case core.CategoryCoding:
		return c.CodingThreshold
	case core.CategoryResearch:
		return c.ResearchThreshold
	default:
		return c.GeneralThreshold
	}
}

// CategoryHalfLife returns the recency-decay half-life for a category.
func (c *RetrievalConfig) CategoryHalfLife(cat core.WorkflowCategory) time.Duration {
	switch cat {
	case core.CategoryCoding:
		return c.CodingHalfLife
	case core.CategoryResearch:
		return c.ResearchHalfLife
	default:
		return c.GeneralHalfLife
	}
}
