package toolhost

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/wagiedev/toolhost-go/internal/mcp"
	"github.com/wagiedev/toolhost-go/internal/registry"
	"github.com/wagiedev/toolhost-go/internal/server"
)

// Serve serves tools over newline-delimited JSON-RPC, reading requests from
// r and writing responses to w, until r ends, ctx is cancelled or a shutdown
// request arrives.
//
//	err := toolhost.Serve(ctx, os.Stdin, os.Stdout, []*toolhost.Tool{sum},
//	    toolhost.WithInfo("calculator", "1.0.0"),
//	)
func Serve(ctx context.Context, r io.Reader, w io.Writer, tools []*Tool, opts ...Option) error {
	options := applyOptions(opts)

	reg, err := newRegistry(options.Logger, tools)
	if err != nil {
		return err
	}

	srv := server.New(options.Logger, reg,
		server.WithRecorder(options.Recorder),
		server.WithInfo(options.Name, options.Version),
	)

	return srv.Serve(ctx, r, w)
}

// NewMCPServer exposes tools through an official MCP SDK server. Run it with
// any SDK transport, for example mcp.StdioTransport.
func NewMCPServer(tools []*Tool, opts ...Option) (*mcp.Server, error) {
	options := applyOptions(opts)

	reg, err := newRegistry(options.Logger, tools)
	if err != nil {
		return nil, err
	}

	return internalmcp.NewServer(options.Logger, reg, &mcp.Implementation{
		Name:    options.Name,
		Version: options.Version,
	}), nil
}

func newRegistry(log *slog.Logger, tools []*Tool) (*registry.Registry, error) {
	reg := registry.New(log)

	for _, tool := range tools {
		if err := reg.Register(tool.descriptor()); err != nil {
			return nil, fmt.Errorf("register tools: %w", err)
		}
	}

	reg.Seal()

	return reg, nil
}
