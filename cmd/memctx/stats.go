package main

import (
	"encoding/json"
	"fmt"

	"github.com/sandevgo/memctx/pkg/log"
	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine counters",
	Long:  `Reports episode count, cache hit/miss/eviction figures, compositions, compaction detections, and semantic fallbacks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		engine, _, cleanup := buildEngine(ctx)
		defer func() {
			if err := cleanup(); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Msg("failed to close storage")
			}
		}()

		stats, err := engine.Stats(ctx)
		if err != nil {
			return err
		}

		if statsJSON {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Episodes:              %d\n", stats.Episodes)
		fmt.Printf("Cache hits/misses:     %d/%d\n", stats.Cache.Hits, stats.Cache.Misses)
		fmt.Printf("Cache evictions:       %d\n", stats.Cache.Evictions)
		fmt.Printf("Cache entries (bytes): %d (%d)\n", stats.Cache.Entries, stats.Cache.Bytes)
		fmt.Printf("Compositions:          %d\n", stats.Compositions)
		fmt.Printf("Compaction detections: %d\n", stats.Detections)
		fmt.Printf("Semantic fallbacks:    %d\n", stats.Fallbacks)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print stats as JSON")
	rootCmd.AddCommand(statsCmd)
}
