package main

import (
	"context"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/mcp"
	"github.com/wagiedev/toolhost-go/internal/server"
)

func runServe(ctx context.Context, a *app, useMCP bool) error {
	reg, err := a.localRegistry()
	if err != nil {
		return err
	}

	if useMCP {
		return mcp.NewServer(a.log, reg, a.info()).Run(ctx, &sdk.StdioTransport{})
	}

	srv := server.New(a.log, reg,
		server.WithRecorder(a.journal),
		server.WithInfo("toolhost", version),
	)

	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
