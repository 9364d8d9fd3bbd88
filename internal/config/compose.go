package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// ComposeConfig bounds the four-tier context composition engine.
type ComposeConfig struct {
	MaxPinnedTokens    int `env:"MEMCTX_MAX_PINNED_TOKENS" envDefault:"2000"`
	MaxDescPrior       int `env:"MEMCTX_MAX_DESC_PRIOR" envDefault:"2"`
	AutoPinThreshold   int `env:"MEMCTX_AUTOPIN_REFS" envDefault:"3"`
	AutoPinPriority    int `env:"MEMCTX_AUTOPIN_PRIORITY" envDefault:"5"`
	EpisodeCacheSize   int `env:"MEMCTX_EPISODE_CACHE_SIZE" envDefault:"1000"`
	WindowPlanning     int `env:"MEMCTX_WINDOW_PLANNING" envDefault:"5"`
	WindowImplementing int `env:"MEMCTX_WINDOW_IMPLEMENTATION" envDefault:"10"`
	WindowQA           int `env:"MEMCTX_WINDOW_QA" envDefault:"15"`

	// SummarizeAt is the utilization above which a summarization pass
	// is recommended.
	SummarizeAt float64 `env:"MEMCTX_SUMMARIZE_AT" envDefault:"0.85"`
}

func NewComposeConfig(ctx context.Context) *ComposeConfig {
	c := &ComposeConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Compose config")
	}
	return c
}

// WindowSize returns the rolling-window size for a phase.
func (c *ComposeConfig) WindowSize(phase core.Phase) int {
	switch phase {
	case core.PhasePlanning:
		return c.WindowPlanning
	case core.PhaseQA:
		return c.WindowQA
	default:
		return c.WindowImplementing
	}
}
