package toolhost

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
)

// Peer is a client for an external tool process speaking the native protocol.
type Peer = protocol.Client

// PeerStats is a snapshot of a peer's health counters.
type PeerStats = protocol.Stats

// StartPeer spawns command, then starts and initializes a peer over its stdio.
// The caller must Stop the returned peer.
func StartPeer(ctx context.Context, alias, command string, args []string, opts ...Option) (*Peer, error) {
	options := applyOptions(opts)

	log := options.Logger

	peer := protocol.NewClient(log, alias, subprocess.Spec{
		Command: command,
		Args:    args,
		Dir:     options.Dir,
		Env:     options.Env,
		Stderr: func(line string) {
			log.Debug("peer stderr", "peer", alias, "line", line)
		},
	}, &protocol.Options{
		CallTimeout: options.CallTimeout,
		ClientInfo:  &mcp.Implementation{Name: options.Name, Version: options.Version},
	})

	if err := peer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start peer %s: %w", alias, err)
	}

	if _, err := peer.Initialize(ctx); err != nil {
		_ = peer.Stop()
		return nil, fmt.Errorf("initialize peer %s: %w", alias, err)
	}

	return peer, nil
}

// WithPeer manages peer lifecycle with automatic cleanup.
//
// This helper starts and initializes a peer, executes the callback, and
// ensures the peer is stopped when done. If Stop fails, a warning is logged
// but does not override the callback's error.
//
// Example usage:
//
//	err := toolhost.WithPeer(ctx, "fs", "toolpeer", []string{"--kind", "fs"},
//	    func(p *toolhost.Peer) error {
//	        out, err := p.CallTool(ctx, "fs_read", map[string]any{"path": "README.md"})
//	        if err != nil {
//	            return err
//	        }
//	        fmt.Println(string(out))
//	        return nil
//	    },
//	    toolhost.WithLogger(log),
//	)
func WithPeer(ctx context.Context, alias, command string, args []string, fn func(*Peer) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	peer, err := StartPeer(ctx, alias, command, args, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if stopErr := peer.Stop(); stopErr != nil {
			applyOptions(opts).Logger.Warn("failed to stop peer", "peer", alias, "error", stopErr)
		}
	}()

	return fn(peer)
}
