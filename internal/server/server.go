package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/audit"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/message"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

// ProtocolVersion is reported in the initialize result.
const ProtocolVersion = "2024-11-05"

// State is the connection state of a Server.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Server serves one protocol connection.
type Server struct {
	log      *slog.Logger
	registry *registry.Registry
	recorder audit.Recorder
	info     *mcp.Implementation
	maxLine  int

	state atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder sets the audit recorder. The default discards records.
func WithRecorder(r audit.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithInfo sets the server identity reported by initialize.
func WithInfo(name, version string) Option {
	return func(s *Server) {
		s.info = &mcp.Implementation{Name: name, Version: version}
	}
}

// WithMaxLineSize overrides the decoder's frame size limit.
func WithMaxLineSize(n int) Option {
	return func(s *Server) {
		s.maxLine = n
	}
}

// New creates a server dispatching tool calls to reg.
func New(log *slog.Logger, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		log:      log.With("component", "server"),
		registry: reg,
		recorder: audit.Nop(),
		info:     &mcp.Implementation{Name: "toolhost", Version: "dev"},
		maxLine:  message.DefaultMaxLineSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current connection state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("state transition", "from", prev, "to", st)
	}
}

// decoded is one result of the read goroutine.
type decoded struct {
	msg *message.Message
	err error
}

// Serve processes messages from r and writes responses to w until the input
// ends, ctx is cancelled, a shutdown request is served, or writing fails.
// End of input is a normal close and returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	defer s.setState(StateClosed)

	dec := message.NewDecoder(r, message.WithMaxLineSize(s.maxLine))
	enc := message.NewEncoder(w)

	incoming := make(chan decoded)
	stop := make(chan struct{})

	defer close(stop)

	go func() {
		defer close(incoming)

		for {
			msg, err := dec.Decode()

			select {
			case incoming <- decoded{msg: msg, err: err}:
			case <-stop:
				return
			}

			if err != nil && !isRecoverable(err) {
				return
			}
		}
	}()

	s.log.Info("serving", "server", s.info.Name, "version", s.info.Version)

	for {
		var in decoded

		select {
		case <-ctx.Done():
			s.log.Debug("context cancelled, closing")

			return ctx.Err()
		case d, ok := <-incoming:
			if !ok {
				return nil
			}

			in = d
		}

		if in.err != nil {
			if stderrors.Is(in.err, io.EOF) {
				s.log.Info("input closed")

				return nil
			}

			pe, ok := stderrors.AsType[*errors.ParseError](in.err)
			if !ok {
				return fmt.Errorf("read input: %w", in.err)
			}

			if err := s.handleParseError(enc, pe); err != nil {
				return err
			}

			continue
		}

		resp, closeAfter := s.dispatch(ctx, in.msg)
		if resp != nil {
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}

		if closeAfter {
			s.log.Info("shutdown requested")

			return nil
		}
	}
}

func isRecoverable(err error) bool {
	_, ok := stderrors.AsType[*errors.ParseError](err)

	return ok
}

// handleParseError answers an unparsable frame and journals it.
func (s *Server) handleParseError(enc *message.Encoder, pe *errors.ParseError) error {
	start := time.Now()

	s.log.Warn("unparsable frame", "error", pe, "raw", pe.Raw)

	rec := audit.Record{Source: audit.SourceLocal, Method: audit.MethodParse}
	rec.Finish(start, nil, pe)
	s.recorder.Record(rec)

	if err := enc.Encode(message.NewErrorResponse(message.RecoveredID(pe), pe.RPCError())); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

// dispatch handles one message. It returns the response to write (nil for
// notifications) and whether the connection should close afterwards.
func (s *Server) dispatch(ctx context.Context, msg *message.Message) (resp *message.Message, closeAfter bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("dispatch panicked", "method", msg.Method, "panic", rec)

			resp = s.errorResponse(msg, errors.Internal("internal error", fmt.Errorf("panic: %v", rec), map[string]any{
				"stack": string(debug.Stack()),
			}))
			closeAfter = false
		}
	}()

	if msg.IsResponse() {
		s.log.Debug("ignoring response on server stream", "id", string(msg.ID))

		return nil, false
	}

	if msg.IsNotification() {
		s.log.Debug("notification", "method", msg.Method)

		return nil, false
	}

	switch msg.Method {
	case message.MethodInitialize:
		return s.handleInitialize(msg), false

	case message.MethodPing:
		return s.result(msg, struct{}{}), false

	case message.MethodShutdown:
		return s.result(msg, map[string]any{"ok": true}), true

	case message.MethodToolsList:
		if s.State() != StateReady {
			return s.errorResponse(msg, errors.Uninitialized(msg.Method)), false
		}

		return s.result(msg, map[string]any{"tools": s.registry.List()}), false

	case message.MethodToolsCall:
		if s.State() != StateReady {
			return s.errorResponse(msg, errors.Uninitialized(msg.Method)), false
		}

		return s.handleToolsCall(ctx, msg), false

	default:
		return s.errorResponse(msg, errors.MethodNotFound(msg.Method)), false
	}
}

func (s *Server) handleInitialize(msg *message.Message) *message.Message {
	if s.State() == StateReady {
		s.log.Debug("repeated initialize")
	}

	s.setState(StateReady)

	return s.result(msg, map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo":      s.info,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	})
}

// callParams accepts both "args" and the MCP spelling "arguments".
type callParams struct {
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (p *callParams) arguments() json.RawMessage {
	if len(p.Args) > 0 {
		return p.Args
	}

	return p.Arguments
}

func (s *Server) handleToolsCall(ctx context.Context, msg *message.Message) *message.Message {
	start := time.Now()
	rec := audit.Record{
		Source: audit.SourceLocal,
		Method: msg.Method,
	}

	var encoded json.RawMessage

	result, err := s.callTool(ctx, msg, &rec)
	if err == nil {
		var encErr error
		if encoded, encErr = json.Marshal(result); encErr != nil {
			err = errors.Internal("encode result", encErr, nil)
		}
	}

	rec.Finish(start, encoded, err)
	s.recorder.Record(rec)

	if err != nil {
		s.log.Debug("tool call failed", "tool", rec.Tool, "error", err)

		return s.errorResponse(msg, errors.ToRPC(err))
	}

	return s.result(msg, encoded)
}

func (s *Server) callTool(ctx context.Context, msg *message.Message, rec *audit.Record) (any, error) {
	var params callParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			rec.Params = msg.Params

			return nil, errors.InvalidParams("expected object with name and args", nil)
		}
	}

	if params.Name == "" {
		rec.Params = msg.Params

		return nil, errors.InvalidParams("missing 'name'", nil)
	}

	rec.Tool = params.Name
	rec.Args = params.arguments()

	return s.registry.Invoke(ctx, params.Name, params.arguments())
}

func (s *Server) result(msg *message.Message, v any) *message.Message {
	resp, err := message.NewResult(msg.ID, v)
	if err != nil {
		return s.errorResponse(msg, errors.Internal("encode result", err, nil))
	}

	return resp
}

func (s *Server) errorResponse(msg *message.Message, rpcErr *errors.RPCError) *message.Message {
	return message.NewErrorResponse(msg.ID, rpcErr)
}
