package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/message"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
)

const (
	peerEnv    = "TOOLHOST_PROTOCOL_TEST_PEER"
	pidFileEnv = "TOOLHOST_PROTOCOL_TEST_PIDS"
)

// TestMain turns the test binary into a scripted peer when peerEnv is set.
func TestMain(m *testing.M) {
	if os.Getenv(peerEnv) != "" {
		os.Exit(runPeer())
	}

	os.Exit(m.Run())
}

type sleepParams struct {
	Ms  int    `json:"ms"`
	Tag string `json:"tag"`
}

// runPeer answers requests on stdin/stdout:
//
//	sleep    replies {"tag":..} after params.ms, concurrently
//	crash    writes to stderr and exits 7
//	garbage  writes a truncated frame carrying the request id
//	noisy    sends a notification and a stray response before replying
//	*        replies {"echo":true}
func runPeer() int {
	if path := os.Getenv(pidFileEnv); path != "" {
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			fmt.Fprintln(f, os.Getpid())
			_ = f.Close()
		}
	}

	dec := message.NewDecoder(os.Stdin)
	enc := message.NewEncoder(os.Stdout)

	reply := func(id json.RawMessage, v any) {
		resp, err := message.NewResult(id, v)
		if err == nil {
			_ = enc.Encode(resp)
		}
	}

	for {
		msg, err := dec.Decode()
		if err != nil {
			if _, ok := err.(*errors.ParseError); ok {
				continue
			}

			return 0
		}

		if !msg.IsRequest() {
			continue
		}

		switch msg.Method {
		case "initialize":
			reply(msg.ID, map[string]any{"protocolVersion": ProtocolVersion, "serverInfo": map[string]any{"name": "test-peer"}})

		case "tools/list":
			reply(msg.ID, map[string]any{"tools": []map[string]any{
				{"name": "echo", "description": "echoes", "inputSchema": map[string]any{"type": "object"}},
			}})

		case "tools/call":
			reply(msg.ID, map[string]any{"called": json.RawMessage(msg.Params)})

		case "sleep":
			var p sleepParams
			_ = json.Unmarshal(msg.Params, &p)

			go func(id json.RawMessage) {
				time.Sleep(time.Duration(p.Ms) * time.Millisecond)
				reply(id, map[string]any{"tag": p.Tag})
			}(msg.ID)

		case "crash":
			fmt.Fprintln(os.Stderr, "fatal: boom")
			os.Exit(7)

		case "garbage":
			fmt.Fprintf(os.Stdout, "{\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":\n", msg.ID)

		case "noisy":
			note, _ := message.NewNotification("notifications/progress", map[string]any{"p": 1})
			_ = enc.Encode(note)
			reply(json.RawMessage(strconv.Itoa(999999)), map[string]any{"stray": true})
			reply(msg.ID, map[string]any{"echo": true})

		case "error":
			_ = enc.Encode(message.NewErrorResponse(msg.ID, errors.InvalidParams("bad input", nil)))

		default:
			reply(msg.ID, map[string]any{"echo": true})
		}
	}
}

func peerSpec(t *testing.T) subprocess.Spec {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return subprocess.Spec{
		Command: exe,
		Env:     map[string]string{peerEnv: "1"},
	}
}

func startPeer(t *testing.T, opts *Options) *Client {
	t.Helper()

	client := NewClient(slog.Default(), "test", peerSpec(t), opts)
	require.NoError(t, client.Start(t.Context()))

	t.Cleanup(func() {
		_ = client.Stop()
	})

	return client
}
