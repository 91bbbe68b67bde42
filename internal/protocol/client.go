package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/message"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
)

const (
	// DefaultCallTimeout applies when Call is given a non-positive timeout.
	DefaultCallTimeout = 30 * time.Second

	// DefaultStopGrace is how long Stop waits for the peer to exit after
	// closing its stdin.
	DefaultStopGrace = 2 * time.Second

	// ProtocolVersion is sent in the initialize request.
	ProtocolVersion = "2024-11-05"

	// exitSettle bounds the wait for the exit of a peer whose stdin write failed.
	exitSettle = 500 * time.Millisecond
)

// ErrStopped is wrapped by the ProcessTerminatedError of a stopped client.
var ErrStopped = stderrors.New("client stopped")

// Options configures a Client.
type Options struct {
	// CallTimeout is the default per-call deadline.
	CallTimeout time.Duration
	// StopGrace bounds the wait for a clean exit in Stop.
	StopGrace time.Duration
	// ClientInfo identifies this host in the initialize request.
	ClientInfo *mcp.Implementation
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}

	if out.CallTimeout <= 0 {
		out.CallTimeout = DefaultCallTimeout
	}

	if out.StopGrace <= 0 {
		out.StopGrace = DefaultStopGrace
	}

	if out.ClientInfo == nil {
		out.ClientInfo = &mcp.Implementation{Name: "toolhost", Version: "dev"}
	}

	return out
}

// pendingRequest tracks an outgoing request awaiting its response.
type pendingRequest struct {
	id       int64
	method   string
	issuedAt time.Time
	deadline time.Time
	waiter   chan outcome
}

// outcome is delivered to a waiter exactly once.
type outcome struct {
	msg *message.Message
	err error
}

// Client talks to one external peer process.
type Client struct {
	log   *slog.Logger
	alias string
	spec  subprocess.Spec
	opts  Options

	nextID      atomic.Int64
	anomalies   atomic.Int64
	parseErrors atomic.Int64
	restarts    atomic.Int64

	restartMu sync.Mutex // serializes Restart

	mu          sync.Mutex // guards the fields below
	state       State
	proc        *subprocess.Process
	pending     map[int64]*pendingRequest
	termErr     *errors.ProcessTerminatedError
	initialized bool
	initResult  json.RawMessage
}

// NewClient creates a client for the peer described by spec. The process is
// spawned by Start.
func NewClient(log *slog.Logger, alias string, spec subprocess.Spec, opts *Options) *Client {
	return &Client{
		log:     log.With("component", "protocol", "peer", alias),
		alias:   alias,
		spec:    spec,
		opts:    opts.withDefaults(),
		pending: make(map[int64]*pendingRequest, 8),
	}
}

// Alias returns the peer alias.
func (c *Client) Alias() string {
	return c.alias
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Start spawns the peer and launches the reader and exit watcher.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted {
		return errors.ErrAlreadyStarted
	}

	return c.startLocked(ctx)
}

// startLocked spawns a fresh process. Caller must hold c.mu.
func (c *Client) startLocked(ctx context.Context) error {
	c.state = StateStarting

	proc := subprocess.New(c.log, c.spec)
	if err := proc.Start(ctx); err != nil {
		c.state = StateTerminated
		c.termErr = &errors.ProcessTerminatedError{Alias: c.alias, ExitCode: -1, Err: err}

		return fmt.Errorf("start peer %q: %w", c.alias, err)
	}

	c.proc = proc
	c.termErr = nil
	c.pending = make(map[int64]*pendingRequest, 8)
	c.state = StateReady

	go c.readLoop(proc)
	go c.watchExit(proc)

	c.log.Info("peer started", "pid", proc.Pid())

	return nil
}

// Initialize performs the initialize handshake and sends the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) (json.RawMessage, error) {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      c.opts.ClientInfo,
		"capabilities":    map[string]any{},
	}

	result, err := c.Call(ctx, message.MethodInitialize, params, 0)
	if err != nil {
		return nil, fmt.Errorf("initialize %q: %w", c.alias, err)
	}

	if err := c.Notify(ctx, message.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification %q: %w", c.alias, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.initResult = result
	c.mu.Unlock()

	c.log.Debug("peer initialized")

	return result, nil
}

// InitializeResult returns the peer's initialize result, if any.
func (c *Client) InitializeResult() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initResult
}

// Call sends a request and waits for its response, the timeout, or ctx.
//
// A non-positive timeout means Options.CallTimeout. A peer error response is
// returned as *errors.RPCError. A Terminated client fails with its
// *errors.ProcessTerminatedError without writing anything.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.opts.CallTimeout
	}

	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()

	switch c.state {
	case StateNotStarted, StateStarting:
		c.mu.Unlock()

		return nil, errors.ErrNotStarted
	case StateTerminated:
		termErr := c.termErr
		c.mu.Unlock()

		return nil, termErr
	}

	proc := c.proc
	id := c.nextID.Add(1)
	now := time.Now()
	entry := &pendingRequest{
		id:       id,
		method:   method,
		issuedAt: now,
		deadline: now.Add(timeout),
		waiter:   make(chan outcome, 1),
	}
	c.pending[id] = entry

	c.mu.Unlock()

	req, err := message.NewRequest(id, method, rawParams)
	if err != nil {
		c.claim(id)

		return nil, err
	}

	data, err := message.Marshal(req)
	if err != nil {
		c.claim(id)

		return nil, err
	}

	c.log.Debug("sending request", "id", id, "method", method)

	if err := proc.Send(ctx, data); err != nil {
		if c.claim(id) {
			// A write to a dying child fails before its exit is observed.
			if ctx.Err() == nil && c.awaitExit(proc) {
				return nil, c.terminatedError(proc)
			}

			return nil, fmt.Errorf("send %s to %q: %w", method, c.alias, err)
		}

		return unpack(<-entry.waiter)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-entry.waiter:
		return unpack(out)

	case <-timer.C:
		if c.claim(id) {
			c.log.Warn("request timed out", "id", id, "method", method, "timeout", timeout)

			return nil, &errors.TimeoutError{Method: method, ID: id, Timeout: timeout}
		}

		return unpack(<-entry.waiter)

	case <-ctx.Done():
		if c.claim(id) {
			c.log.Debug("request cancelled", "id", id, "method", method)

			return nil, ctx.Err()
		}

		return unpack(<-entry.waiter)
	}
}

// awaitExit reports whether proc exits within exitSettle.
func (c *Client) awaitExit(proc *subprocess.Process) bool {
	timer := time.NewTimer(exitSettle)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Notify sends a notification. Nothing is awaited.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	proc, state, termErr := c.proc, c.state, c.termErr
	c.mu.Unlock()

	switch state {
	case StateNotStarted, StateStarting:
		return errors.ErrNotStarted
	case StateTerminated:
		return termErr
	}

	msg, err := message.NewNotification(method, rawParams)
	if err != nil {
		return err
	}

	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}

	return proc.Send(ctx, data)
}

// claim removes the entry for id. Only the caller that gets true may
// resolve the request.
func (c *Client) claim(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}

	delete(c.pending, id)

	return true
}

// readLoop decodes the peer's stdout until it closes.
func (c *Client) readLoop(proc *subprocess.Process) {
	defer c.log.Debug("reader stopped")

	dec := message.NewDecoder(proc.Stdout())

	for {
		msg, err := dec.Decode()
		if err != nil {
			if pe, ok := stderrors.AsType[*errors.ParseError](err); ok {
				c.handleParseError(proc, pe)

				continue
			}

			c.log.Debug("peer output closed", "error", err)

			return
		}

		c.dispatch(msg)
	}
}

// dispatch resolves the waiter matching a response. Anything else is an
// anomaly and is dropped.
func (c *Client) dispatch(msg *message.Message) {
	if !msg.IsResponse() {
		c.anomalies.Add(1)
		c.log.Debug("discarding message from peer", "method", msg.Method, "id", string(msg.ID))

		return
	}

	id, ok := msg.IntID()
	if !ok {
		c.anomalies.Add(1)
		c.log.Warn("response with non-integer id", "id", string(msg.ID))

		return
	}

	c.resolve(id, outcome{msg: msg})
}

// resolve delivers out to the request with id if it is still outstanding.
func (c *Client) resolve(id int64, out outcome) {
	c.mu.Lock()

	entry, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}

	c.mu.Unlock()

	if !exists {
		c.anomalies.Add(1)
		c.log.Warn("no outstanding request for response", "id", id)

		return
	}

	c.log.Debug("response received", "id", id, "method", entry.method, "elapsed", time.Since(entry.issuedAt))

	entry.waiter <- out
}

// handleParseError marks the client Degraded and fails the request whose id
// could be recovered from the broken frame.
func (c *Client) handleParseError(proc *subprocess.Process, pe *errors.ParseError) {
	c.parseErrors.Add(1)

	c.mu.Lock()
	if c.proc == proc && c.state == StateReady {
		c.state = StateDegraded
	}
	c.mu.Unlock()

	c.log.Warn("unparsable frame from peer", "error", pe, "raw", pe.Raw)

	var id int64
	if raw := message.RecoveredID(pe); raw != nil {
		if err := json.Unmarshal(raw, &id); err == nil {
			c.resolve(id, outcome{err: pe})
		}
	}
}

// watchExit fails every outstanding request once proc exits.
func (c *Client) watchExit(proc *subprocess.Process) {
	<-proc.Done()

	c.terminate(proc, c.terminatedError(proc))
}

func (c *Client) terminatedError(proc *subprocess.Process) *errors.ProcessTerminatedError {
	return &errors.ProcessTerminatedError{
		Alias:    c.alias,
		ExitCode: proc.ExitCode(),
		Stderr:   proc.Stderr(),
		Err:      proc.ExitErr(),
	}
}

// terminate moves to Terminated and fails all outstanding requests with
// termErr. It is a no-op for a process that is no longer current.
func (c *Client) terminate(proc *subprocess.Process, termErr *errors.ProcessTerminatedError) {
	c.mu.Lock()

	if c.proc != proc {
		c.mu.Unlock()

		return
	}

	if c.state != StateTerminated {
		c.state = StateTerminated
		c.termErr = termErr
	}

	failed := c.pending
	c.pending = make(map[int64]*pendingRequest, 8)
	reported := c.termErr

	c.mu.Unlock()

	if len(failed) > 0 {
		c.log.Warn("peer terminated with outstanding requests", "outstanding", len(failed), "error", reported)
	}

	for _, entry := range failed {
		entry.waiter <- outcome{err: reported}
	}
}

// Stop terminates the peer: outstanding requests fail, stdin is closed and
// the process is killed if it does not exit within the grace period.
func (c *Client) Stop() error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		return nil
	}

	c.terminate(proc, &errors.ProcessTerminatedError{Alias: c.alias, Err: ErrStopped})

	if err := proc.Stop(c.opts.StopGrace); err != nil {
		return fmt.Errorf("stop peer %q: %w", c.alias, err)
	}

	c.log.Info("peer stopped")

	return nil
}

// Restart stops the current process if needed and spawns a fresh one with
// an empty request table. The id counter continues. A client that had been
// initialized is initialized again.
func (c *Client) Restart(ctx context.Context) error {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()

	if c.state != StateNotStarted && c.state != StateTerminated {
		c.mu.Unlock()

		return fmt.Errorf("restart peer %q: %w", c.alias, errors.ErrAlreadyStarted)
	}

	reinit := c.initialized
	c.initialized = false
	c.initResult = nil
	err := c.startLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	c.restarts.Add(1)

	if reinit {
		if _, err := c.Initialize(ctx); err != nil {
			return err
		}
	}

	return nil
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	raw, err := c.Call(ctx, message.MethodToolsList, nil, 0)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []*mcp.Tool `json:"tools"`
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	return result.Tools, nil
}

// CallTool calls tools/call for the named tool.
func (c *Client) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}

	return c.Call(ctx, message.MethodToolsCall, map[string]any{"name": name, "arguments": args}, 0)
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pid := 0
	if c.proc != nil {
		pid = c.proc.Pid()
	}

	return Stats{
		Alias:       c.alias,
		State:       c.state.String(),
		Pid:         pid,
		Outstanding: len(c.pending),
		Anomalies:   c.anomalies.Load(),
		ParseErrors: c.parseErrors.Load(),
		LastID:      c.nextID.Load(),
		Restarts:    c.restarts.Load(),
	}
}

func unpack(out outcome) (json.RawMessage, error) {
	if out.err != nil {
		return nil, out.err
	}

	if out.msg.Error != nil {
		return nil, out.msg.Error
	}

	return out.msg.Result, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	return raw, nil
}
