package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/toolhost-go/internal/audit"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/message"
	"github.com/wagiedev/toolhost-go/internal/protocol"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8787"

	shutdownTimeout = 5 * time.Second
)

// Forwarder is the peer side of the bridge.
type Forwarder interface {
	Alias() string
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Stats() protocol.Stats
}

// Options configures a Server.
type Options struct {
	// Recorder receives one record per forwarded request.
	Recorder audit.Recorder
	// CallTimeout bounds each forwarded call; zero uses the peer default.
	CallTimeout time.Duration
	// MaxBodyBytes caps request bodies and WebSocket messages.
	MaxBodyBytes int64
}

// Server forwards HTTP and WebSocket requests to a peer.
type Server struct {
	log  *slog.Logger
	peer Forwarder
	opts Options
	mux  *http.ServeMux
}

// New creates a bridge for peer.
func New(log *slog.Logger, peer Forwarder, opts Options) *Server {
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop()
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = message.DefaultMaxLineSize
	}

	s := &Server{
		log:  log.With("component", "bridge", "peer", peer.Alias()),
		peer: peer,
		opts: opts,
		mux:  http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /rpc", s.handleRPC)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	return s
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("bridge listening", "addr", ln.Addr().String())

		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		s.log.Info("bridge stopped")

		return nil
	})

	return g.Wait()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		if _, ok := stderrors.AsType[*http.MaxBytesError](err); ok {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				message.NewErrorResponse(nil, errors.NewRPCError(errors.CodeInvalidRequest, "request body too large", nil)))

			return
		}

		http.Error(w, "read body", http.StatusBadRequest)

		return
	}

	resp := s.Forward(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	defer conn.CloseNow()

	conn.SetReadLimit(s.opts.MaxBodyBytes)

	ctx := r.Context()
	s.log.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.log.Debug("websocket read ended", "error", err)
			}

			return
		}

		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusUnsupportedData, "text messages only")
			return
		}

		resp := s.Forward(ctx, data)
		if resp == nil {
			continue
		}

		out, err := message.Marshal(resp)
		if err != nil {
			s.log.Error("marshal response", "error", err)
			return
		}

		if err := conn.Write(ctx, websocket.MessageText, bytes.TrimSpace(out)); err != nil {
			s.log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.peer.Stats())
}

// Forward parses one JSON-RPC frame, forwards it to the peer and returns the
// response. Notifications have no peer-side effect and return nil.
func (s *Server) Forward(ctx context.Context, frame []byte) *message.Message {
	msg, err := message.Parse(frame)
	if err != nil {
		if pe, ok := stderrors.AsType[*errors.ParseError](err); ok {
			return message.NewErrorResponse(message.RecoveredID(pe), pe.RPCError())
		}

		return message.NewErrorResponse(nil, errors.ToRPC(err))
	}

	if msg.IsNotification() {
		s.log.Debug("dropping notification", "method", msg.Method)
		return nil
	}

	if !msg.IsRequest() {
		return message.NewErrorResponse(msg.ID,
			errors.NewRPCError(errors.CodeInvalidRequest, "bridge accepts requests only", nil))
	}

	var params any
	if len(msg.Params) > 0 {
		params = msg.Params
	}

	start := time.Now()
	result, err := s.peer.Call(ctx, msg.Method, params, s.opts.CallTimeout)

	rec := audit.Record{Source: s.peer.Alias(), Method: msg.Method, Params: msg.Params}
	if msg.Method == message.MethodToolsCall {
		rec.Tool, rec.Args = toolCall(msg.Params)
	}

	rec.Finish(start, result, err)
	s.opts.Recorder.Record(rec)

	if err != nil {
		return message.NewErrorResponse(msg.ID, errors.ToRPC(err))
	}

	return &message.Message{JSONRPC: message.Version, ID: msg.ID, Result: result}
}

func toolCall(params json.RawMessage) (string, json.RawMessage) {
	var p struct {
		Name      string          `json:"name"`
		Args      json.RawMessage `json:"args"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(params, &p); err != nil {
		return "", nil
	}

	if len(p.Args) == 0 {
		p.Args = p.Arguments
	}

	return p.Name, p.Args
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("write response", "error", err)
	}
}
