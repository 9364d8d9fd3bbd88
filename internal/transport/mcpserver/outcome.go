package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/service/memory"
)

// OutcomeTool handles memctx_record_outcome: feed reuse results back
// into the active-learning loop.
type OutcomeTool struct {
	engine *memory.Engine
}

func NewOutcomeTool(engine *memory.Engine) *OutcomeTool {
	return &OutcomeTool{engine: engine}
}

func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_record_outcome",
		mcp.WithDescription(
			"Record whether reusing an episode helped or hurt. Outcomes drive confidence tiers and "+
				"the per-category injection thresholds.",
		),
		mcp.WithString("episode_id",
			mcp.Required(),
			mcp.Description("The reused episode"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("The task that reused it"),
		),
		mcp.WithBoolean("success",
			mcp.Required(),
			mcp.Description("Whether the reuse succeeded"),
		),
		mcp.WithString("error_type",
			mcp.Description("Failure classification; only valid when success is false"),
		),
	)
}

func (t *OutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	episodeID := req.GetString("episode_id", "")
	taskID := req.GetString("task_id", "")
	if episodeID == "" || taskID == "" {
		return mcp.NewToolResultError("'episode_id' and 'task_id' are required"), nil
	}

	id, err := t.engine.RecordOutcome(ctx, episodeID, taskID,
		boolArg(req, "success", false), req.GetString("error_type", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record outcome failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Recorded outcome %s", id)), nil
}
