package router

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/audit"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/llm"
	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

type fakePeer struct {
	alias string

	mu       sync.Mutex
	started  bool
	restarts int
	calls    []string
	startErr error
	callErr  error
}

func (p *fakePeer) Alias() string { return p.alias }

func (p *fakePeer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return p.startErr
	}

	p.started = true

	return nil
}

func (p *fakePeer) Initialize(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (p *fakePeer) Call(_ context.Context, method string, _ any, _ time.Duration) (json.RawMessage, error) {
	p.record(method)

	if p.callErr != nil {
		return nil, p.callErr
	}

	return json.RawMessage(`{"method":"` + method + `"}`), nil
}

func (p *fakePeer) ListTools(context.Context) ([]*mcp.Tool, error) {
	p.record("tools/list")

	return []*mcp.Tool{{Name: "fs_read", Description: "Read a file"}}, nil
}

func (p *fakePeer) CallTool(_ context.Context, name string, _ any) (json.RawMessage, error) {
	p.record("tools/call:" + name)

	if p.callErr != nil {
		return nil, p.callErr
	}

	return json.RawMessage(`{"content":"peer says hi"}`), nil
}

func (p *fakePeer) Restart(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.restarts++

	return nil
}

func (p *fakePeer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = false

	return nil
}

func (p *fakePeer) Stats() protocol.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return protocol.Stats{Alias: p.alias, State: "ready", Restarts: int64(p.restarts)}
}

func (p *fakePeer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, call)
}

type chatRecorder struct {
	mu    sync.Mutex
	calls []chatArgs
	err   error
}

func (c *chatRecorder) descriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        ChatTool,
		Description: "fake chat",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var in chatArgs
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, err
			}

			c.mu.Lock()
			c.calls = append(c.calls, in)
			c.mu.Unlock()

			if c.err != nil {
				return nil, c.err
			}

			return map[string]any{"text": "reply " + in.Messages[len(in.Messages)-1].Content}, nil
		},
	}
}

type routerFixture struct {
	router   *Router
	out      *bytes.Buffer
	recorder *audit.Memory
	chat     *chatRecorder
	peer     *fakePeer
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	chat := &chatRecorder{}

	reg := registry.New(slog.Default())
	reg.MustRegister(chat.descriptor(), registry.Descriptor{
		Name:        "sum",
		Description: "Add two numbers",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var in struct{ A, B float64 }
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, err
			}

			return map[string]float64{"result": in.A + in.B}, nil
		},
	})
	reg.Seal()

	out := &bytes.Buffer{}
	recorder := &audit.Memory{}

	r := New(slog.Default(), reg, Options{
		Recorder:       recorder,
		Output:         out,
		TranscriptPath: filepath.Join(t.TempDir(), "chat.md"),
	})

	peer := &fakePeer{alias: "fs"}
	require.NoError(t, r.AddPeer(peer))

	return &routerFixture{router: r, out: out, recorder: recorder, chat: chat, peer: peer}
}

func TestRouter_AddPeerDuplicate(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	require.Error(t, f.router.AddPeer(&fakePeer{alias: "fs"}))
	require.Equal(t, []string{"fs"}, f.router.Aliases())

	_, err := f.router.Peer("nope")
	require.ErrorIs(t, err, errors.ErrUnknownPeer)
}

func TestRouter_StartPeers(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	require.NoError(t, f.router.AddPeer(&fakePeer{alias: "git"}))

	require.NoError(t, f.router.StartPeers(t.Context()))
	require.True(t, f.peer.started)

	require.NoError(t, f.router.Close())
	require.False(t, f.peer.started)
}

func TestRouter_StartPeersFailure(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	boom := stderrors.New("spawn failed")
	require.NoError(t, f.router.AddPeer(&fakePeer{alias: "git", startErr: boom}))

	err := f.router.StartPeers(t.Context())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "start peer git")
}

func TestRouter_LocalCall(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	require.False(t, f.router.Handle(t.Context(), `/call sum {"a": 2, "b": 3}`))
	require.Contains(t, f.out.String(), `"result": 5`)

	records := f.recorder.Records()
	require.Len(t, records, 1)
	require.Equal(t, audit.SourceLocal, records[0].Source)
	require.Equal(t, "tools/call", records[0].Method)
	require.Equal(t, "sum", records[0].Tool)
	require.True(t, records[0].OK)
}

func TestRouter_LocalCallUnknownTool(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	f.router.Handle(t.Context(), "/call missing")
	require.Contains(t, f.out.String(), "[MethodNotFound] tool not found: missing")

	records := f.recorder.Records()
	require.Len(t, records, 1)
	require.False(t, records[0].OK)
	require.Equal(t, errors.CodeMethodNotFound, records[0].Error.Code)
}

func TestRouter_ParseErrorIsRendered(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	require.False(t, f.router.Handle(t.Context(), "/call sum {bad"))
	require.Contains(t, f.out.String(), "[InvalidRequest] invalid JSON")
	require.Empty(t, f.recorder.Records())
}

func TestRouter_Chat(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	f.router.Handle(t.Context(), "hello")
	f.router.Handle(t.Context(), "again")

	require.Len(t, f.chat.calls, 2)
	require.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "reply hello"},
		{Role: llm.RoleUser, Content: "again"},
	}, f.chat.calls[1].Messages)
	require.Equal(t, "USER: hello\nASSISTANT: reply hello\nUSER: again", f.chat.calls[1].Prompt)

	require.Equal(t, 4, f.router.History().Len())
	require.Contains(t, f.out.String(), "reply again")

	records := f.recorder.Records()
	require.Len(t, records, 2)
	require.Equal(t, ChatTool, records[0].Tool)
}

func TestRouter_ChatFailureKeepsTurn(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.chat.err = errors.NewRPCError(errors.CodeInternalError, "upstream down", nil)

	f.router.Handle(t.Context(), "hello")

	turns := f.router.History().Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "[llm_chat] [InternalError] upstream down", turns[1].Content)
}

func TestRouter_NewAndSave(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	f.router.Handle(t.Context(), "hello")
	f.router.Handle(t.Context(), "/save")
	require.Contains(t, f.out.String(), "transcript saved to")

	f.router.Handle(t.Context(), "/new")
	require.Zero(t, f.router.History().Len())

	// Neither command issues tool traffic.
	require.Len(t, f.recorder.Records(), 1)
}

func TestRouter_PeerCommands(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	ctx := t.Context()

	f.router.Handle(ctx, "/fs.list")
	f.router.Handle(ctx, `/fs.call fs_read {"path":"a.txt"}`)
	f.router.Handle(ctx, `/fs.rpc {"method":"ping"}`)
	f.router.Handle(ctx, "/fs.restart")

	require.Equal(t, []string{"tools/list", "tools/call:fs_read", "ping"}, f.peer.calls)
	require.Equal(t, 1, f.peer.restarts)

	out := f.out.String()
	require.Contains(t, out, "fs tools (1)")
	require.Contains(t, out, "peer says hi")
	require.Contains(t, out, `"method": "ping"`)
	require.Contains(t, out, "peer fs restarted")

	records := f.recorder.Records()
	require.Len(t, records, 3)

	for _, rec := range records {
		require.Equal(t, "fs", rec.Source)
		require.True(t, rec.OK)
	}

	require.Equal(t, "fs_read", records[1].Tool)
	require.Equal(t, "ping", records[2].Method)
}

func TestRouter_MixedCaseAlias(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	repo := &fakePeer{alias: "GitRepo"}
	require.NoError(t, f.router.AddPeer(repo))

	f.router.Handle(t.Context(), "/GitRepo.list")
	f.router.Handle(t.Context(), "/GitRepo.CALL git_status")

	require.Equal(t, []string{"tools/list", "tools/call:git_status"}, repo.calls)
	require.NotContains(t, f.out.String(), "unknown peer")

	records := f.recorder.Records()
	require.Len(t, records, 2)
	require.Equal(t, "GitRepo", records[0].Source)
}

func TestRouter_PeerErrors(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)
	f.peer.callErr = &errors.TimeoutError{Method: "tools/call", ID: 7, Timeout: time.Second}

	f.router.Handle(t.Context(), `/fs.call slow {}`)
	require.Contains(t, f.out.String(), "[Timeout]")

	f.router.Handle(t.Context(), "/nope.list")
	require.Contains(t, f.out.String(), "unknown peer")

	records := f.recorder.Records()
	require.Len(t, records, 1)
	require.False(t, records[0].OK)
}

func TestRouter_PeersAndHelp(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	f.router.Handle(t.Context(), "/peers")
	f.router.Handle(t.Context(), "/help")
	f.router.Handle(t.Context(), "/tools")

	out := f.out.String()
	require.Contains(t, out, "fs")
	require.Contains(t, out, "ready")
	require.Contains(t, out, "Peers: fs")
	require.Contains(t, out, "local tools (2)")
}

func TestRouter_Run(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t)

	in := strings.NewReader("/call sum {\"a\":1,\"b\":1}\n/exit\n/call sum {\"a\":5,\"b\":5}\n")
	require.NoError(t, f.router.Run(t.Context(), in, false))

	require.Len(t, f.recorder.Records(), 1)
	require.Contains(t, f.out.String(), `"result": 2`)
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[InvalidParams] invalid params: bad",
		FormatError(errors.InvalidParams("bad", nil)))
	require.Equal(t, "[InternalError] plain failure",
		FormatError(stderrors.New("plain failure")))
	require.Equal(t, "[InternalError] tool execution failed: disk full",
		FormatError(errors.Internal("tool execution failed", stderrors.New("disk full"), nil)))
}
