package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/memory"
)

// StoreTool handles the memctx_store tool: persist one (query, answer)
// interaction as an episode.
type StoreTool struct {
	engine *memory.Engine
}

func NewStoreTool(engine *memory.Engine) *StoreTool {
	return &StoreTool{engine: engine}
}

func (t *StoreTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_store",
		mcp.WithDescription(
			"Store a completed task interaction (the task text and its solution) in episodic memory "+
				"so similar future tasks can reuse it.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The task or question text"),
		),
		mcp.WithString("answer",
			mcp.Required(),
			mcp.Description("The solution or answer text"),
		),
		mcp.WithString("category",
			mcp.Description("Workflow category: coding, research, or general"),
		),
		mcp.WithString("content_type",
			mcp.Description("Content type of the answer: code or text"),
		),
		mcp.WithString("files",
			mcp.Description("Comma-separated file paths the solution touched"),
		),
		mcp.WithString("task_id",
			mcp.Description("Originating task identifier"),
		),
	)
}

func (t *StoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	answer := req.GetString("answer", "")
	if query == "" || answer == "" {
		return mcp.NewToolResultError("'query' and 'answer' are required"), nil
	}

	md := core.Metadata{
		Category:    core.WorkflowCategory(req.GetString("category", "")),
		ContentType: req.GetString("content_type", ""),
		TaskID:      req.GetString("task_id", ""),
	}
	if files := req.GetString("files", ""); files != "" {
		for _, f := range strings.Split(files, ",") {
			if f = strings.TrimSpace(f); f != "" {
				md.Files = append(md.Files, f)
			}
		}
	}

	id, err := t.engine.Store(ctx, query, answer, md)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored episode %s", id)), nil
}

// DeprecateTool handles memctx_deprecate: soft-delete an episode.
// Episodes are append-only; deprecation is the only removal offered.
type DeprecateTool struct {
	engine *memory.Engine
}

func NewDeprecateTool(engine *memory.Engine) *DeprecateTool {
	return &DeprecateTool{engine: engine}
}

func (t *DeprecateTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_deprecate",
		mcp.WithDescription(
			"Deprecate an episode so it stops appearing in retrieval. The record itself is kept; "+
				"episodic memory is append-only.",
		),
		mcp.WithString("episode_id",
			mcp.Required(),
			mcp.Description("The episode to deprecate"),
		),
	)
}

func (t *DeprecateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("episode_id", "")
	if id == "" {
		return mcp.NewToolResultError("'episode_id' is required"), nil
	}
	if err := t.engine.Deprecate(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deprecate failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Episode %s deprecated", id)), nil
}
