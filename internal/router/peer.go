package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/protocol"
)

// Peer is an external tool provider reachable by alias. Native peers are
// *protocol.Client; MCP servers are *mcp.Peer from the internal mcp package.
type Peer interface {
	Alias() string
	Start(ctx context.Context) error
	Initialize(ctx context.Context) (json.RawMessage, error)
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, name string, args any) (json.RawMessage, error)
	Restart(ctx context.Context) error
	Stop() error
	Stats() protocol.Stats
}
