package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/memory"
	"github.com/sandevgo/memctx/internal/service/retrieval"
)

// RetrieveTool handles memctx_retrieve: similarity search over the
// episodic store.
type RetrieveTool struct {
	engine *memory.Engine
}

func NewRetrieveTool(engine *memory.Engine) *RetrieveTool {
	return &RetrieveTool{engine: engine}
}

func (t *RetrieveTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_retrieve",
		mcp.WithDescription(
			"Search episodic memory for prior solutions similar to the given text. Results carry "+
				"similarity scores, confidence tiers, and warnings for episodes with a failing track record.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text to search with"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Similarity floor (default: 0.80)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Max episodes returned (default: 2)"),
		),
		mcp.WithString("category",
			mcp.Description("Workflow category hint: coding, research, or general"),
		),
	)
}

func (t *RetrieveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	results, err := t.engine.Retrieve(ctx, query, memory.RetrieveOptions{
		Threshold:  floatArg(req, "threshold", 0),
		MaxResults: intArg(req, "max_results", 0),
		Task: retrieval.TaskContext{
			Prompt:   query,
			Category: core.WorkflowCategory(req.GetString("category", "")),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No prior solutions found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d prior solutions:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (similarity %.3f, confidence %s)\n",
			i+1, r.Episode.ID, r.Similarity, r.Confidence)
		if r.Warning != "" {
			fmt.Fprintf(&b, "    WARNING: %s\n", r.Warning)
		}
		fmt.Fprintf(&b, "    Task: %s\n    Solution: %s\n\n",
			r.Episode.QueryText, r.Episode.AnswerText)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// InjectTool handles memctx_inject: augment a prompt with prior
// solutions that pass the safety filter.
type InjectTool struct {
	engine *memory.Engine
}

func NewInjectTool(engine *memory.Engine) *InjectTool {
	return &InjectTool{engine: engine}
}

func (t *InjectTool) Definition() mcp.Tool {
	return mcp.NewTool("memctx_inject",
		mcp.WithDescription(
			"Augment a prompt with relevant prior solutions, applying category thresholds, recency "+
				"decay, and content-type checks. Returns the augmented prompt and token deltas.",
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The prompt to augment"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Similarity floor override"),
		),
		mcp.WithNumber("max_episodes",
			mcp.Description("Max episodes to inject (default: 2)"),
		),
		mcp.WithString("files",
			mcp.Description("Comma-separated file paths in the task's context"),
		),
	)
}

func (t *InjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	if prompt == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}

	task := retrieval.TaskContext{Prompt: prompt}
	if files := req.GetString("files", ""); files != "" {
		for _, f := range strings.Split(files, ",") {
			if f = strings.TrimSpace(f); f != "" {
				task.Files = append(task.Files, f)
			}
		}
	}

	result, err := t.engine.Inject(ctx, prompt, memory.InjectOptions{
		Threshold:   floatArg(req, "threshold", 0),
		MaxEpisodes: intArg(req, "max_episodes", 0),
		Task:        task,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inject failed: %v", err)), nil
	}
	return jsonResult(result)
}
