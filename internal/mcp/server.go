package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

// NewServer exposes every tool in reg through an SDK server. Tool failures
// are reported as error results carrying the RPC error text, as MCP expects,
// rather than as protocol errors.
func NewServer(log *slog.Logger, reg *registry.Registry, info *mcp.Implementation) *mcp.Server {
	log = log.With("component", "mcp-server")

	server := mcp.NewServer(info, nil)

	for _, tool := range reg.List() {
		name := tool.Name

		server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args json.RawMessage
			if req != nil && req.Params != nil {
				args = req.Params.Arguments
			}

			result, err := reg.Invoke(ctx, name, args)
			if err != nil {
				rpcErr := errors.ToRPC(err)
				log.Debug("tool failed", "tool", name, "code", rpcErr.Code, "error", rpcErr.Message)

				return ErrorResult(rpcErr.Error()), nil
			}

			return StructuredResult(result)
		})
	}

	return server
}
