package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/service/memory"
)

// StatsTool handles memctx_stats: the engine's observability counters.
type StatsTool struct {
	engine *memory.Engine
}

func NewStatsTool(engine *memory.Engine) *StatsTool {
	return &StatsTool{engine: engine}
}

func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_stats",
		mcp.WithDescription(
			"Report engine counters: episode count, cache hit/miss/eviction figures, compositions, "+
				"compaction detections, and semantic fallbacks.",
		),
	)
}

func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.engine.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(stats)
}
