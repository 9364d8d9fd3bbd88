package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/pkg/log"
)

// RecoveryConfig bounds compaction detection and tier bridging.
type RecoveryConfig struct {
	// DetectConfidence is the fuzzy-match score at which the detector
	// flips into recovery mode.
	DetectConfidence float64 `env:"MEMCTX_DETECT_CONFIDENCE" envDefault:"0.5"`

	// FallbackThreshold is the similarity floor for the semantic
	// fallback path during reconstruction.
	FallbackThreshold float64 `env:"MEMCTX_FALLBACK_THRESHOLD" envDefault:"0.85"`

	HotCapacityBytes int64 `env:"MEMCTX_HOT_CAPACITY_BYTES" envDefault:"4194304"`
}

func NewRecoveryConfig(ctx context.Context) *RecoveryConfig {
	c := &RecoveryConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Recovery config")
	}
	return c
}
