package main

import (
	"context"
	"fmt"

	"github.com/wagiedev/toolhost-go/internal/bridge"
)

func runBridge(ctx context.Context, a *app, alias, addr string) error {
	if alias == "" {
		alias = a.cfg.Bridge.Peer
	}

	if addr == "" {
		addr = a.cfg.Bridge.Addr
	}

	if alias == "" {
		return fmt.Errorf("bridge: no peer given (use --peer or bridge.peer)")
	}

	pc, ok := a.cfg.Peer(alias)
	if !ok {
		return fmt.Errorf("bridge: unknown peer %q", alias)
	}

	peer := a.newPeer(pc)

	if err := peer.Start(ctx); err != nil {
		return fmt.Errorf("start peer %s: %w", alias, err)
	}

	defer func() {
		if err := peer.Stop(); err != nil {
			a.log.Warn("stop peer", "peer", alias, "error", err)
		}
	}()

	if _, err := peer.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize peer %s: %w", alias, err)
	}

	srv := bridge.New(a.log, peer, bridge.Options{
		Recorder:    a.journal,
		CallTimeout: pc.Timeout.Std(),
	})

	return srv.ListenAndServe(ctx, addr)
}
