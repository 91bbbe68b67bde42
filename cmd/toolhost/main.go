// Command toolhost runs the tool host.
//
// Usage:
//
//	toolhost [chat] [flags]      interactive router (default)
//	toolhost serve [flags]       serve local tools on stdin/stdout
//	toolhost bridge [flags]      expose a peer over HTTP and WebSocket
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:])

	stop()

	if err != nil && !stderrors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	command := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("toolhost "+command, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML or TOML configuration file")
	envFile := fs.String("env", ".env", "path to .env file (ignored if missing)")

	switch command {
	case "chat":
		fs.Usage = usage(fs, "chat", "Route chat and slash commands to local tools and peers.")

		if err := fs.Parse(args); err != nil {
			return err
		}

		a, err := newApp(*configPath, *envFile)
		if err != nil {
			return err
		}
		defer a.Close()

		return runChat(ctx, a)
	case "serve":
		fs.Usage = usage(fs, "serve", "Serve the local tools over newline-delimited JSON-RPC on stdin/stdout.")
		useMCP := fs.Bool("mcp", false, "speak MCP through the SDK server instead of the native protocol")

		if err := fs.Parse(args); err != nil {
			return err
		}

		a, err := newApp(*configPath, *envFile)
		if err != nil {
			return err
		}
		defer a.Close()

		return runServe(ctx, a, *useMCP)
	case "bridge":
		fs.Usage = usage(fs, "bridge", "Expose one configured peer over HTTP (POST /rpc) and WebSocket (/ws).")
		alias := fs.String("peer", "", "alias of the peer to expose (default: bridge.peer from config)")
		addr := fs.String("addr", "", "listen address (default: bridge.addr from config)")

		if err := fs.Parse(args); err != nil {
			return err
		}

		a, err := newApp(*configPath, *envFile)
		if err != nil {
			return err
		}
		defer a.Close()

		return runBridge(ctx, a, *alias, *addr)
	case "version":
		fmt.Println("toolhost", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want chat, serve, bridge or version)", command)
	}
}

func usage(fs *flag.FlagSet, command, summary string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: toolhost %s [flags]\n\n%s\n\nFlags:\n", command, summary)
		fs.PrintDefaults()
	}
}
