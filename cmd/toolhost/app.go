package main

import (
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/audit"
	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/llm"
	"github.com/wagiedev/toolhost-go/internal/mcp"
	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/registry"
	"github.com/wagiedev/toolhost-go/internal/router"
	"github.com/wagiedev/toolhost-go/internal/sandbox"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
	"github.com/wagiedev/toolhost-go/internal/tools"
)

// app holds what every subcommand needs: configuration, logging and the
// audit journal.
type app struct {
	log     *slog.Logger
	cfg     config.Config
	journal *audit.Journal
}

func newApp(configPath, envFile string) (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	// stdout carries the protocol in serve mode; logs always go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	journal, err := audit.Open(log, cfg.Audit.Path, audit.Options{MaxBytes: cfg.Audit.MaxBytes})
	if err != nil {
		return nil, err
	}

	return &app{log: log, cfg: cfg, journal: journal}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.log.Warn("close audit journal", "error", err)
	}
}

func (a *app) info() *sdk.Implementation {
	return &sdk.Implementation{Name: "toolhost", Version: version}
}

// localRegistry builds the sealed registry of the host's own tools.
func (a *app) localRegistry() (*registry.Registry, error) {
	sb, err := sandbox.New("", a.cfg.Sandbox.AllowedDirs, a.cfg.Sandbox.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	chat := llm.New(a.log, llm.Config{
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Timeout:     a.cfg.LLM.Timeout.Std(),
	})

	local := tools.NewLocal(a.log, tools.LocalOptions{
		Sandbox:      sb,
		LLM:          chat,
		SystemPrompt: a.cfg.LLM.ResolveSystemPrompt(),
		ReportsDir:   a.cfg.ReportsDir,
	})

	reg := registry.New(a.log)

	for _, d := range local.Descriptors() {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	reg.Seal()

	a.log.Debug("local tools registered", "count", reg.Len(), "sandbox", sb.Roots())

	return reg, nil
}

// newPeer creates the client for a configured peer without starting it.
func (a *app) newPeer(pc config.PeerConfig) router.Peer {
	spec := subprocess.Spec{
		Command: pc.Command,
		Args:    pc.Args,
		Dir:     pc.Cwd,
		Env:     pc.Env,
		Stderr: func(line string) {
			a.log.Debug("peer stderr", "peer", pc.Alias, "line", line)
		},
	}

	if pc.Kind == config.KindMCP {
		return mcp.NewPeer(a.log, pc.Alias, spec, &mcp.Options{CallTimeout: pc.Timeout.Std(), ClientInfo: a.info()})
	}

	return protocol.NewClient(a.log, pc.Alias, spec, &protocol.Options{CallTimeout: pc.Timeout.Std(), ClientInfo: a.info()})
}
