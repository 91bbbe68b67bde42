// Command toolpeer serves the filesystem or git tool set over stdin/stdout.
// It is the reference peer process launched by toolhost.
//
// Usage:
//
//	toolpeer --kind fs --root DIR [--mcp]
//	toolpeer --kind git --root DIR [--mcp]
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/mcp"
	"github.com/wagiedev/toolhost-go/internal/registry"
	"github.com/wagiedev/toolhost-go/internal/sandbox"
	"github.com/wagiedev/toolhost-go/internal/server"
	"github.com/wagiedev/toolhost-go/internal/tools"
)

var version = "dev"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: toolpeer --kind fs|git [flags]\n\nFlags:\n")
		flag.PrintDefaults()
	}

	kind := flag.String("kind", "fs", "tool set to serve: fs or git")
	root := flag.String("root", ".", "directory the tools operate in")
	maxBytes := flag.Int64("max-bytes", sandbox.DefaultMaxBytes, "largest file fs tools read or write")
	useMCP := flag.Bool("mcp", false, "speak MCP through the SDK server instead of the native protocol")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, *kind, *root, *maxBytes, *useMCP)

	stop()

	if err != nil && !stderrors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, kind, root string, maxBytes int64, useMCP bool) error {
	level := slog.LevelInfo
	if name := os.Getenv("TOOLHOST_LOG_LEVEL"); name != "" {
		parsed, err := config.ParseLevel(name)
		if err != nil {
			return err
		}

		level = parsed
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("peer", kind)

	reg, err := buildRegistry(log, kind, root, maxBytes)
	if err != nil {
		return err
	}

	name := "toolpeer-" + kind

	if useMCP {
		return mcp.NewServer(log, reg, &sdk.Implementation{Name: name, Version: version}).Run(ctx, &sdk.StdioTransport{})
	}

	return server.New(log, reg, server.WithInfo(name, version)).Serve(ctx, os.Stdin, os.Stdout)
}

func buildRegistry(log *slog.Logger, kind, root string, maxBytes int64) (*registry.Registry, error) {
	reg := registry.New(log)

	var descriptors []registry.Descriptor

	switch kind {
	case "fs":
		sb, err := sandbox.New(root, []string{"."}, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}

		descriptors = tools.NewFS(sb).Descriptors()
	case "git":
		descriptors = tools.NewGit(root).Descriptors()
	default:
		return nil, fmt.Errorf("unknown kind %q (want fs or git)", kind)
	}

	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	reg.Seal()

	return reg, nil
}
