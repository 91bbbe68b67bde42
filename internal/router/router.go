package router

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/toolhost-go/internal/audit"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/llm"
	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

const (
	// ChatTool is the local tool that receives chat turns.
	ChatTool = "llm_chat"

	maxInputLine = 1024 * 1024
)

// Options configures a Router.
type Options struct {
	// Recorder receives one audit record per tool invocation.
	Recorder audit.Recorder
	// Output receives everything the router prints. Defaults to stdout.
	Output io.Writer
	// TranscriptPath is where /save writes when no path is given.
	TranscriptPath string
	// CallTimeout bounds each peer call; zero uses the peer's default.
	CallTimeout time.Duration
	// Temperature and MaxTokens are passed to the chat tool when set.
	Temperature *float64
	MaxTokens   int
	// PromptChars caps the flattened prompt sent with chat turns.
	PromptChars int
}

// Router dispatches interactive commands.
type Router struct {
	log       *slog.Logger
	reg       *registry.Registry
	recorder  audit.Recorder
	render    *Renderer
	opts      Options
	sessionID string
	history   Conversation

	mu    sync.RWMutex
	peers map[string]Peer
}

// New creates a router over the local registry.
func New(log *slog.Logger, reg *registry.Registry, opts Options) *Router {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	if opts.Recorder == nil {
		opts.Recorder = audit.Nop()
	}

	if opts.TranscriptPath == "" {
		opts.TranscriptPath = filepath.Join("reports", "chat.md")
	}

	if opts.PromptChars <= 0 {
		opts.PromptChars = DefaultPromptChars
	}

	sessionID := ulid.Make().String()

	return &Router{
		log:       log.With("component", "router", "session", sessionID),
		reg:       reg,
		recorder:  opts.Recorder,
		render:    NewRenderer(opts.Output),
		opts:      opts,
		sessionID: sessionID,
		peers:     make(map[string]Peer, 4),
	}
}

// SessionID identifies this router session.
func (r *Router) SessionID() string {
	return r.sessionID
}

// History returns the conversation owned by the router.
func (r *Router) History() *Conversation {
	return &r.history
}

// AddPeer registers a peer under its alias.
func (r *Router) AddPeer(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[p.Alias()]; exists {
		return fmt.Errorf("router: duplicate peer alias %q", p.Alias())
	}

	r.peers[p.Alias()] = p

	return nil
}

// Peer returns the peer registered under alias.
func (r *Router) Peer(alias string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownPeer, alias)
	}

	return p, nil
}

// Aliases returns registered peer aliases, sorted.
func (r *Router) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.peers))
	for alias := range r.peers {
		aliases = append(aliases, alias)
	}

	slices.Sort(aliases)

	return aliases
}

// StartPeers starts and initializes every peer concurrently. Any failure is
// returned; callers treat it as fatal at launch.
func (r *Router) StartPeers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, alias := range r.Aliases() {
		p, _ := r.Peer(alias)

		g.Go(func() error {
			if err := p.Start(gctx); err != nil {
				return fmt.Errorf("start peer %s: %w", alias, err)
			}

			if _, err := p.Initialize(gctx); err != nil {
				return fmt.Errorf("initialize peer %s: %w", alias, err)
			}

			tools, err := p.ListTools(gctx)
			if err != nil {
				return fmt.Errorf("list tools of peer %s: %w", alias, err)
			}

			r.log.Info("peer ready", "peer", alias, "tools", len(tools))

			return nil
		})
	}

	return g.Wait()
}

// Close stops every peer.
func (r *Router) Close() error {
	var errs []error

	for _, alias := range r.Aliases() {
		p, _ := r.Peer(alias)
		if err := p.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop peer %s: %w", alias, err))
		}
	}

	return stderrors.Join(errs...)
}

// Run reads commands from in until EOF, /exit or context cancellation.
// When prompt is set a "> " prompt is printed before each line.
func (r *Router) Run(ctx context.Context, in io.Reader, prompt bool) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxInputLine)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	for {
		if prompt {
			fmt.Fprint(r.opts.Output, "> ")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return ctx.Err()
				}
			}

			if r.Handle(ctx, line) {
				return nil
			}
		}
	}
}

// Handle parses and executes one line, printing the outcome. It reports
// whether the router should exit.
func (r *Router) Handle(ctx context.Context, line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		r.render.Error(errors.NewRPCError(errors.CodeInvalidRequest, err.Error(), nil))
		return false
	}

	exit, err := r.Execute(ctx, cmd)
	if err != nil {
		r.render.Error(err)
	}

	return exit
}

// Execute runs a parsed command.
func (r *Router) Execute(ctx context.Context, cmd Command) (bool, error) {
	switch cmd.Kind {
	case KindEmpty:
		return false, nil
	case KindExit:
		return true, nil
	case KindHelp:
		r.render.Plain(r.help())
	case KindTools:
		r.render.Tools("local tools", r.reg.List())
	case KindNew:
		r.history.Reset()
		r.render.Info("context reset")
	case KindSave:
		return false, r.save(cmd.Path)
	case KindPeers:
		r.render.Peers(r.stats())
	case KindCall:
		res, err := r.callLocal(ctx, cmd.Tool, cmd.Args)
		if err != nil {
			return false, err
		}

		r.render.JSON(res)
	case KindChat:
		r.chat(ctx, cmd.Text)
	case KindPeerList, KindPeerCall, KindPeerRPC, KindPeerRestart:
		return false, r.executePeer(ctx, cmd)
	default:
		return false, fmt.Errorf("%w: kind %d", ErrUnknownCommand, cmd.Kind)
	}

	return false, nil
}

func (r *Router) executePeer(ctx context.Context, cmd Command) error {
	p, err := r.Peer(cmd.Alias)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case KindPeerList:
		start := time.Now()
		tools, err := p.ListTools(ctx)
		r.audit(audit.Record{Source: cmd.Alias, Method: "tools/list"}, start, tools, err)

		if err != nil {
			return err
		}

		r.render.Tools(cmd.Alias+" tools", tools)
	case KindPeerCall:
		start := time.Now()
		res, err := p.CallTool(ctx, cmd.Tool, cmd.Args)
		r.audit(audit.Record{Source: cmd.Alias, Method: "tools/call", Tool: cmd.Tool, Args: cmd.Args}, start, res, err)

		if err != nil {
			return err
		}

		r.render.JSON(res)
	case KindPeerRPC:
		var params any
		if len(cmd.Params) > 0 {
			params = cmd.Params
		}

		start := time.Now()
		res, err := p.Call(ctx, cmd.Method, params, r.opts.CallTimeout)
		r.audit(audit.Record{Source: cmd.Alias, Method: cmd.Method, Params: cmd.Params}, start, res, err)

		if err != nil {
			return err
		}

		r.render.JSON(res)
	case KindPeerRestart:
		if err := p.Restart(ctx); err != nil {
			return err
		}

		r.render.Info("peer %s restarted", cmd.Alias)
	}

	return nil
}

// callLocal invokes a registry tool and records exactly one audit record.
func (r *Router) callLocal(ctx context.Context, name string, args json.RawMessage) (any, error) {
	start := time.Now()
	res, err := r.reg.Invoke(ctx, name, args)
	r.audit(audit.Record{Source: audit.SourceLocal, Method: "tools/call", Tool: name, Args: args}, start, res, err)

	return res, err
}

func (r *Router) audit(rec audit.Record, start time.Time, result any, err error) {
	rec.Finish(start, result, err)
	r.recorder.Record(rec)
}

type chatArgs struct {
	Messages    []llm.Message `json:"messages"`
	Prompt      string        `json:"prompt"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chat appends a user turn, sends the full history to the chat tool and
// appends the reply. A failed call still yields an assistant turn carrying
// the rendered error so the transcript stays complete.
func (r *Router) chat(ctx context.Context, text string) {
	r.history.Append(llm.RoleUser, text)

	args, err := json.Marshal(chatArgs{
		Messages:    r.history.Turns(),
		Prompt:      r.history.Prompt(r.opts.PromptChars),
		Temperature: r.opts.Temperature,
		MaxTokens:   r.opts.MaxTokens,
	})
	if err != nil {
		r.render.Error(err)
		return
	}

	reply := ""

	res, err := r.callLocal(ctx, ChatTool, args)
	if err != nil {
		reply = "[" + ChatTool + "] " + FormatError(err)
		r.render.Error(err)
	} else {
		reply = replyText(res)
		r.render.Reply(reply)
	}

	r.history.Append(llm.RoleAssistant, reply)
}

func replyText(res any) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprint(res)
	}

	var out struct {
		Text string `json:"text"`
	}

	if err := json.Unmarshal(data, &out); err != nil || strings.TrimSpace(out.Text) == "" {
		return "(empty reply)"
	}

	return strings.TrimSpace(out.Text)
}

func (r *Router) save(path string) error {
	if path == "" {
		path = r.opts.TranscriptPath
	}

	written, err := r.history.Save(path, time.Now())
	if err != nil {
		return err
	}

	r.render.Info("transcript saved to %s", written)

	return nil
}

func (r *Router) stats() []protocol.Stats {
	aliases := r.Aliases()
	stats := make([]protocol.Stats, 0, len(aliases))

	for _, alias := range aliases {
		p, _ := r.Peer(alias)
		stats = append(stats, p.Stats())
	}

	return stats
}

func (r *Router) help() string {
	var b strings.Builder

	b.WriteString(`Commands:
  /help                    Show this help
  /tools                   List local tools
  /new                     Reset the conversation
  /save [file.md]          Save the transcript (default: ` + r.opts.TranscriptPath + `)
  /call NAME {json}        Call a local tool
  /peers                   Show peer status
  /<alias>.list            List a peer's tools
  /<alias>.call NAME {json}
                           Call a peer tool
  /<alias>.rpc {json}      Raw request to a peer, e.g. {"method":"tools/list"}
  /<alias>.restart         Restart a terminated or degraded peer
  /exit                    Quit

Any other text is sent to ` + ChatTool + ` with the conversation so far.
`)

	if aliases := r.Aliases(); len(aliases) > 0 {
		b.WriteString("\nPeers: " + strings.Join(aliases, ", ") + "\n")
	}

	return b.String()
}
