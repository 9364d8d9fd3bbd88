package mcpserver

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/memory"
	"github.com/sandevgo/memctx/pkg/log"
)

// Server speaks MCP over stdio, exposing the engine's operations as
// tools. Logging stays on stderr so stdout carries only protocol
// frames.
type Server struct {
	mcp    *server.MCPServer
	engine *memory.Engine
}

func New(engine *memory.Engine) *Server {
	s := server.NewMCPServer(
		core.MemctxName,
		core.MemctxVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(
			"memctx is a context and memory engine for agent workflows: store task interactions, "+
				"retrieve and inject prior solutions, record reuse outcomes, compose token-budgeted "+
				"context bundles, and recover from conversation compaction.",
		),
	)

	storeTool := NewStoreTool(engine)
	s.AddTool(storeTool.Definition(), storeTool.Handle)

	retrieveTool := NewRetrieveTool(engine)
	s.AddTool(retrieveTool.Definition(), retrieveTool.Handle)

	injectTool := NewInjectTool(engine)
	s.AddTool(injectTool.Definition(), injectTool.Handle)

	outcomeTool := NewOutcomeTool(engine)
	s.AddTool(outcomeTool.Definition(), outcomeTool.Handle)

	composeTool := NewComposeTool(engine)
	s.AddTool(composeTool.Definition(), composeTool.Handle)

	pinTool := NewPinTool(engine)
	s.AddTool(pinTool.Definition(), pinTool.Handle)

	compactionTool := NewCompactionTool(engine)
	s.AddTool(compactionTool.Definition(), compactionTool.Handle)

	reconstructTool := NewReconstructTool(engine)
	s.AddTool(reconstructTool.Definition(), reconstructTool.Handle)

	checkpointTool := NewCheckpointTool(engine)
	s.AddTool(checkpointTool.Definition(), checkpointTool.Handle)

	deprecateTool := NewDeprecateTool(engine)
	s.AddTool(deprecateTool.Definition(), deprecateTool.Handle)

	statsTool := NewStatsTool(engine)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	return &Server{mcp: s, engine: engine}
}

func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Msg("mcp server listening on stdio")

	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.FromCtx(ctx).Info().Msg("mcp server stopped")
	return nil
}
