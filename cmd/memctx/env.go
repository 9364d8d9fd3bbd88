package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/pkg/env"
	"github.com/sandevgo/memctx/pkg/log"
	"github.com/spf13/cobra"
)

var envWrite bool

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the effective configuration as .env content",
	Long:  `Renders every configuration knob with its current effective value. With --write, saves it to the runtime directory's .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		appCfg := config.NewAppConfig(ctx)

		sections := []any{
			appCfg,
			config.NewChunkerConfig(ctx),
			config.NewEmbeddingConfig(ctx),
			config.NewRetrievalConfig(ctx),
			config.NewComposeConfig(ctx),
			config.NewRecoveryConfig(ctx),
		}

		var sb strings.Builder
		for _, section := range sections {
			content, err := env.MarshalEnv(section)
			if err != nil {
				return err
			}
			sb.WriteString(content)
		}

		if !envWrite {
			fmt.Print(sb.String())
			return nil
		}

		path := filepath.Join(appCfg.GetRuntimePath(), ".env")
		if err := os.MkdirAll(appCfg.GetRuntimePath(), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
			return err
		}
		log.FromCtx(ctx).Info().Str("path", path).Msg("configuration written")
		return nil
	},
}

func init() {
	envCmd.Flags().BoolVar(&envWrite, "write", false, "write to the runtime .env file")
	rootCmd.AddCommand(envCmd)
}
