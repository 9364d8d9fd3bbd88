package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/pkg/log"
)

// EmbeddingConfig points at the embedding HTTP service. The service is
// an external boundary; vectors come back L2-normalized.
type EmbeddingConfig struct {
	BaseURL    string        `env:"MEMCTX_EMBEDDING_URL" envDefault:"http://127.0.0.1:8876"`
	Timeout    time.Duration `env:"MEMCTX_EMBEDDING_TIMEOUT" envDefault:"30s"`
	MaxRetries int           `env:"MEMCTX_EMBEDDING_RETRIES" envDefault:"2"`
}

func NewEmbeddingConfig(ctx context.Context) *EmbeddingConfig {
	c := &EmbeddingConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Embedding config")
	}
	return c
}
