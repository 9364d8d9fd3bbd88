package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/service/memory"
)

// CompactionTool handles memctx_check_compaction: score a message for
// upstream truncation markers.
type CompactionTool struct {
	engine *memory.Engine
}

func NewCompactionTool(engine *memory.Engine) *CompactionTool {
	return &CompactionTool{engine: engine}
}

func (t *CompactionTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_check_compaction",
		mcp.WithDescription(
			"Check whether a message indicates the upstream conversation was compacted (truncated or "+
				"summarized). A detection flips the engine into recovery mode.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message to inspect"),
		),
	)
}

func (t *CompactionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	if t.engine.CheckCompaction(ctx, message) {
		return mcp.NewToolResultText("Compaction detected. Run memctx_reconstruct_context to recover."), nil
	}
	return mcp.NewToolResultText("No compaction detected."), nil
}

// ReconstructTool handles memctx_reconstruct_context: rebuild
// composition state from the tier store after a compaction.
type ReconstructTool struct {
	engine *memory.Engine
}

func NewReconstructTool(engine *memory.Engine) *ReconstructTool {
	return &ReconstructTool{engine: engine}
}

func (t *ReconstructTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_reconstruct_context",
		mcp.WithDescription(
			"Rebuild pinned entries, the active window, archive references, and the dependency graph "+
				"from tiered storage after a compaction. Reports completeness and anything lost.",
		),
	)
}

func (t *ReconstructTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rc, err := t.engine.ReconstructContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reconstruction failed: %v", err)), nil
	}
	return jsonResult(rc)
}

// CheckpointTool handles memctx_checkpoint: persist composition state
// so a later compaction can be recovered from.
type CheckpointTool struct {
	engine *memory.Engine
}

func NewCheckpointTool(engine *memory.Engine) *CheckpointTool {
	return &CheckpointTool{engine: engine}
}

func (t *CheckpointTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_checkpoint",
		mcp.WithDescription(
			"Checkpoint the current composition state (pins, window, archive, dependencies) into "+
				"tiered storage.",
		),
	)
}

func (t *CheckpointTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.engine.Checkpoint(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("checkpoint failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Composition state checkpointed."), nil
}
