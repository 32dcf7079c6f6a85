// Package mcp implements the Model Context Protocol server, exposing the
// memory service to LLMs. An assistant can store what it learns, recall
// it later with grounded citations, and clean up after itself.
package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/memory"
)

// Version is advertised to clients for capability negotiation.
const Version = "1.0.0"

// Serve starts the MCP server over stdio. stdout carries MCP JSON-RPC;
// all logging must go to stderr, which the zap console logger does.
func Serve(ctx context.Context, mem *memory.Memory, log *zap.Logger) error {
	h := &handlers{mem: mem, log: log}

	s := server.NewMCPServer(
		"memd",
		Version,
		server.WithToolCapabilities(true),
	)
	registerTools(s, h)

	log.Info("memd MCP server ready", zap.String("version", Version), zap.String("transport", "stdio"))

	err := server.ServeStdio(s)
	if errors.Is(err, context.Canceled) {
		log.Info("server stopped")
		return nil
	}
	return err
}

// handlers provides MCP request handlers with access to the memory.
type handlers struct {
	mem *memory.Memory
	log *zap.Logger
}
