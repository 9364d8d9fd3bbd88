package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/pkg/log"
)

// ChunkerConfig bounds the symmetric chunker. The same values must be
// used at storage time and query time; retrieval correctness depends
// on identical boundaries.
type ChunkerConfig struct {
	MaxChars  int `env:"MEMCTX_CHUNK_MAX_CHARS" envDefault:"1200"`
	MinChars  int `env:"MEMCTX_CHUNK_MIN_CHARS" envDefault:"120"`
	Overlap   int `env:"MEMCTX_CHUNK_OVERLAP" envDefault:"240"`
	MaxChunks int `env:"MEMCTX_CHUNK_MAX_COUNT" envDefault:"256"`
}

func NewChunkerConfig(ctx context.Context) *ChunkerConfig {
	c := &ChunkerConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Chunker config")
	}
	return c
}
