package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/memory"
)

// ComposeTool handles memctx_compose_context: assemble the four-tier
// context bundle under a token budget.
type ComposeTool struct {
	engine *memory.Engine
}

func NewComposeTool(engine *memory.Engine) *ComposeTool {
	return &ComposeTool{engine: engine}
}

func (t *ComposeTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_compose_context",
		mcp.WithDescription(
			"Compose the four-tier context bundle (pinned, prior solutions, active window, archive "+
				"references) within a token budget.",
		),
		mcp.WithNumber("context_window",
			mcp.Required(),
			mcp.Description("Token budget for the composed bundle"),
		),
		mcp.WithString("phase",
			mcp.Description("Pipeline phase sizing the active window: planning, implementation, or qa"),
		),
		mcp.WithBoolean("include_dependencies",
			mcp.Description("Place each active item's dependencies before it"),
		),
		mcp.WithString("search_text",
			mcp.Description("Fills the prior-solutions tier from retrieval when set"),
		),
	)
}

func (t *ComposeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := intArg(req, "context_window", 0)
	if window <= 0 {
		return mcp.NewToolResultError("'context_window' must be a positive token count"), nil
	}

	cc, err := t.engine.ComposeContext(ctx, memory.ComposeOptions{
		ContextWindow:       window,
		Phase:               core.Phase(req.GetString("phase", "")),
		IncludeDependencies: boolArg(req, "include_dependencies", false),
		SearchText:          req.GetString("search_text", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compose failed: %v", err)), nil
	}
	return jsonResult(cc)
}

// PinTool handles memctx_pin: mark a context item always-included.
type PinTool struct {
	engine *memory.Engine
}

func NewPinTool(engine *memory.Engine) *PinTool {
	return &PinTool{engine: engine}
}

func (t *PinTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_pin",
		mcp.WithDescription(
			"Pin a context item so every composed bundle includes it, subject to the pinned token "+
				"budget. Higher priority survives eviction longer.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Stable item identifier"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The text to pin"),
		),
		mcp.WithString("reason",
			mcp.Description("Why this item is pinned"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Eviction priority, higher wins (default: 5)"),
		),
		mcp.WithBoolean("unpin",
			mcp.Description("Remove the pin instead of adding it"),
		),
	)
}

func (t *PinTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if boolArg(req, "unpin", false) {
		if !t.engine.Unpin(id) {
			return mcp.NewToolResultText(fmt.Sprintf("Nothing pinned under %q", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Unpinned %q", id)), nil
	}

	content := req.GetString("content", "")
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	err := t.engine.Pin(id, content, req.GetString("reason", "pinned via mcp"), intArg(req, "priority", 5))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pin failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pinned %q", id)), nil
}
