package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memctx/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"MEMCTX_RUNTIME_PATH" envDefault:".memctx"`

	// QualityMonitorIntervalMin is how often the background monitor
	// recomputes category success rates and proposes threshold changes.
	QualityMonitorIntervalMin int `env:"MEMCTX_QUALITY_INTERVAL_MIN" envDefault:"10"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func (c AppConfig) GetRuntimePath() string {
	path := c.RuntimePath
	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.GetRuntimePath(), "memctx.db")
}
