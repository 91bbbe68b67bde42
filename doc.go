// Package toolhost serves and consumes tools over newline-delimited JSON-RPC.
//
// A tool is a named operation with a JSON Schema for its input. This package
// lets Go programs expose their own tools to a host, and drive external tool
// processes (peers) the same way the toolhost binary does.
//
// # Serving Tools
//
// Build tools with NewTool and serve them on stdin/stdout:
//
//	sum := toolhost.NewTool("sum", "Add two numbers",
//	    toolhost.SimpleSchema(map[string]string{"a": "number", "b": "number"}),
//	    toolhost.TypedHandler(func(_ context.Context, in struct{ A, B float64 }) (any, error) {
//	        return map[string]float64{"result": in.A + in.B}, nil
//	    }),
//	)
//
//	err := toolhost.Serve(ctx, os.Stdin, os.Stdout, []*toolhost.Tool{sum},
//	    toolhost.WithInfo("calculator", "1.0.0"),
//	)
//
// The server rejects tools/list and tools/call until the client has sent
// initialize. Arguments are validated against the tool schema before the
// handler runs; failures are reported as InvalidParams.
//
// The same tools can be served to MCP clients through the official SDK:
//
//	srv, err := toolhost.NewMCPServer([]*toolhost.Tool{sum})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Run(ctx, &mcp.StdioTransport{})
//
// # Calling Peers
//
// WithPeer spawns a tool process, performs the initialize handshake and
// stops the process when the callback returns:
//
//	err := toolhost.WithPeer(ctx, "fs", "toolpeer", []string{"--kind", "fs", "--root", "."},
//	    func(p *toolhost.Peer) error {
//	        out, err := p.CallTool(ctx, "fs_list", map[string]any{"path": "."})
//	        if err != nil {
//	            return err
//	        }
//	        fmt.Println(string(out))
//	        return nil
//	    },
//	)
//
// Many calls may be in flight on one peer at once. Each has a deadline; a
// reply that arrives after it is discarded.
//
// # Logging
//
// For detailed operation tracking, use WithLogger:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	err := toolhost.Serve(ctx, os.Stdin, os.Stdout, tools, toolhost.WithLogger(logger))
//
// Log to stderr when serving on stdout: stdout carries the protocol.
//
// # Error Handling
//
// Every failure maps to an *RPCError with a wire code. Peer calls return
// typed errors for the common cases:
//
//	out, err := peer.CallTool(ctx, "slow", nil)
//	if err != nil {
//	    if _, ok := errors.AsType[*toolhost.TimeoutError](err); ok {
//	        log.Print("peer took too long")
//	    }
//	    if termErr, ok := errors.AsType[*toolhost.ProcessTerminatedError](err); ok {
//	        log.Fatalf("peer exited with code %d: %s", termErr.ExitCode, termErr.Stderr)
//	    }
//	    rpcErr := toolhost.ToRPC(err)
//	    log.Printf("call failed: %d %s", rpcErr.Code, rpcErr.Message)
//	}
package toolhost
