package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
)

// TransportFunc creates a fresh transport for each connection attempt.
type TransportFunc func() (mcp.Transport, error)

// Options configures a Peer.
type Options struct {
	// CallTimeout is the default per-call deadline.
	CallTimeout time.Duration
	// ClientInfo identifies this host to the server.
	ClientInfo *mcp.Implementation
}

// Peer is an external MCP server driven through the SDK client.
type Peer struct {
	log       *slog.Logger
	alias     string
	transport TransportFunc
	opts      Options

	calls       atomic.Int64
	outstanding atomic.Int64
	failures    atomic.Int64
	restarts    atomic.Int64

	mu      sync.Mutex // guards the fields below
	state   protocol.State
	session *mcp.ClientSession
	termErr *errors.ProcessTerminatedError
}

// NewPeer creates a peer that spawns spec's command and speaks MCP over its
// stdio through the SDK command transport.
func NewPeer(log *slog.Logger, alias string, spec subprocess.Spec, opts *Options) *Peer {
	return NewPeerWithTransport(log, alias, func() (mcp.Transport, error) {
		path, err := subprocess.Resolve(spec.Command, spec.Dir)
		if err != nil {
			return nil, err
		}

		cmd := exec.Command(path, spec.Args...) //nolint:gosec // command comes from configuration
		cmd.Dir = spec.Dir
		cmd.Env = subprocess.BuildEnvironment(spec.Env)

		return &mcp.CommandTransport{Command: cmd}, nil
	}, opts)
}

// NewPeerWithTransport creates a peer over transports produced by newTransport.
func NewPeerWithTransport(log *slog.Logger, alias string, newTransport TransportFunc, opts *Options) *Peer {
	o := Options{}
	if opts != nil {
		o = *opts
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = protocol.DefaultCallTimeout
	}

	if o.ClientInfo == nil {
		o.ClientInfo = &mcp.Implementation{Name: "toolhost", Version: "dev"}
	}

	return &Peer{
		log:       log.With("component", "mcp", "peer", alias),
		alias:     alias,
		transport: newTransport,
		opts:      o,
	}
}

// Alias returns the peer alias.
func (p *Peer) Alias() string {
	return p.alias
}

// State returns the current lifecycle state.
func (p *Peer) State() protocol.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Start connects to the server. The SDK performs the initialize handshake
// as part of connecting.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.startLocked(ctx)
}

func (p *Peer) startLocked(ctx context.Context) error {
	if p.state == protocol.StateStarting || p.state == protocol.StateReady || p.state == protocol.StateDegraded {
		return errors.ErrAlreadyStarted
	}

	p.state = protocol.StateStarting

	transport, err := p.transport()
	if err != nil {
		p.fail(err)
		return err
	}

	client := mcp.NewClient(p.opts.ClientInfo, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		err = fmt.Errorf("mcp %s: connect: %w", p.alias, err)
		p.fail(err)

		return err
	}

	p.session = session
	p.state = protocol.StateReady
	p.termErr = nil

	go p.watch(session)

	p.log.Info("mcp peer connected")

	return nil
}

func (p *Peer) fail(err error) {
	p.state = protocol.StateTerminated
	p.termErr = &errors.ProcessTerminatedError{Alias: p.alias, ExitCode: -1, Err: err}
}

// watch marks the peer terminated when the session ends on its own.
func (p *Peer) watch(session *mcp.ClientSession) {
	err := session.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != session {
		return
	}

	if p.termErr == nil {
		if err == nil {
			err = stderrors.New("session closed")
		}

		p.termErr = &errors.ProcessTerminatedError{Alias: p.alias, ExitCode: -1, Err: err}
	}

	p.state = protocol.StateTerminated
	p.session = nil

	p.log.Warn("mcp peer session ended", "error", err)
}

// Initialize is a no-op kept for parity with native peers; the handshake
// already happened in Start.
func (p *Peer) Initialize(context.Context) (json.RawMessage, error) {
	if _, err := p.active(); err != nil {
		return nil, err
	}

	return json.RawMessage(`{}`), nil
}

func (p *Peer) active() (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.state == protocol.StateNotStarted:
		return nil, errors.ErrNotStarted
	case p.termErr != nil:
		return nil, p.termErr
	case p.session == nil:
		return nil, errors.ErrNotStarted
	}

	return p.session, nil
}

// Call issues method through the SDK session. Only the methods the SDK client
// exposes are supported: ping, tools/list and tools/call.
func (p *Peer) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	session, err := p.active()
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = p.opts.CallTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := p.calls.Add(1)

	p.outstanding.Add(1)
	defer p.outstanding.Add(-1)

	result, err := p.call(ctx, session, method, params)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, &errors.TimeoutError{Method: method, ID: id, Timeout: timeout}
		}

		if _, ok := stderrors.AsType[*errors.RPCError](err); !ok {
			p.failures.Add(1)
		}

		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: marshal %s result: %w", p.alias, method, err)
	}

	return data, nil
}

func (p *Peer) call(ctx context.Context, session *mcp.ClientSession, method string, params any) (any, error) {
	switch method {
	case "ping":
		if err := session.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mcp %s: ping: %w", p.alias, err)
		}

		return struct{}{}, nil
	case "tools/list":
		res, err := session.ListTools(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("mcp %s: list tools: %w", p.alias, err)
		}

		return res, nil
	case "tools/call":
		var in struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
			Args      json.RawMessage `json:"args"`
		}

		if err := remarshal(params, &in); err != nil || in.Name == "" {
			return nil, errors.InvalidParams("tools/call requires a tool name", nil)
		}

		args := in.Arguments
		if len(args) == 0 {
			args = in.Args
		}

		return p.callTool(ctx, session, in.Name, args)
	default:
		return nil, errors.MethodNotFound(method)
	}
}

func (p *Peer) callTool(ctx context.Context, session *mcp.ClientSession, name string, args json.RawMessage) (any, error) {
	var arguments map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, errors.InvalidParams("arguments must be a JSON object", map[string]any{"detail": err.Error()})
		}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcp %s: call tool %s: %w", p.alias, name, err)
	}

	if res.IsError {
		return nil, errors.NewRPCError(errors.CodeInternalError, "tool error: "+ResultText(res), map[string]any{"tool": name})
	}

	return ResultMap(res), nil
}

// ListTools returns the server's tools.
func (p *Peer) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	raw, err := p.Call(ctx, "tools/list", nil, 0)
	if err != nil {
		return nil, err
	}

	var res mcp.ListToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("mcp %s: decode tools/list: %w", p.alias, err)
	}

	return res.Tools, nil
}

// CallTool invokes a tool on the server.
func (p *Peer) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	return p.Call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, 0)
}

// Stop closes the session. The SDK closes the server's stdin and escalates
// to a signal if it does not exit.
func (p *Peer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stopLocked()
}

func (p *Peer) stopLocked() error {
	session := p.session
	p.session = nil
	p.state = protocol.StateTerminated

	if p.termErr == nil {
		p.termErr = &errors.ProcessTerminatedError{Alias: p.alias, Err: protocol.ErrStopped}
	}

	if session == nil {
		return nil
	}

	if err := session.Close(); err != nil {
		return fmt.Errorf("mcp %s: close: %w", p.alias, err)
	}

	return nil
}

// Restart closes the session and connects again.
func (p *Peer) Restart(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stopLocked(); err != nil {
		p.log.Warn("close before restart failed", "error", err)
	}

	p.termErr = nil

	if err := p.startLocked(ctx); err != nil {
		return err
	}

	p.restarts.Add(1)

	return nil
}

// Stats returns health counters. LastID counts calls issued; Anomalies counts
// transport-level call failures.
func (p *Peer) Stats() protocol.Stats {
	return protocol.Stats{
		Alias:       p.alias,
		State:       p.State().String(),
		Outstanding: int(p.outstanding.Load()),
		Anomalies:   p.failures.Load(),
		LastID:      p.calls.Load(),
		Restarts:    p.restarts.Load(),
	}
}

func remarshal(in any, out any) error {
	if in == nil {
		return fmt.Errorf("no params")
	}

	var data []byte

	switch v := in.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(in); err != nil {
			return err
		}
	}

	return json.Unmarshal(data, out)
}
