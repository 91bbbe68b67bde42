package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/wagiedev/toolhost-go/internal/router"
)

func runChat(ctx context.Context, a *app) error {
	reg, err := a.localRegistry()
	if err != nil {
		return err
	}

	r := router.New(a.log, reg, router.Options{
		Recorder:       a.journal,
		Output:         os.Stdout,
		TranscriptPath: filepath.Join(a.cfg.ReportsDir, "chat.md"),
		CallTimeout:    a.cfg.CallTimeout.Std(),
	})

	for _, pc := range a.cfg.Peers {
		if err := r.AddPeer(a.newPeer(pc)); err != nil {
			return err
		}
	}

	defer func() {
		if err := r.Close(); err != nil {
			a.log.Warn("stop peers", "error", err)
		}
	}()

	if err := r.StartPeers(ctx); err != nil {
		return err
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		r.Handle(ctx, "/help")
	}

	return r.Run(ctx, os.Stdin, interactive)
}
