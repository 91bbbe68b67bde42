package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

const servePeerEnv = "TOOLHOST_TEST_SERVE_PEER"

// TestMain turns the test binary into a tool peer serving sum when
// servePeerEnv is set.
func TestMain(m *testing.M) {
	if os.Getenv(servePeerEnv) != "" {
		if err := Serve(context.Background(), os.Stdin, os.Stdout, []*Tool{sumTool()}); err != nil {
			os.Exit(1)
		}

		os.Exit(0)
	}

	os.Exit(m.Run())
}

func TestWithPeer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithPeer(ctx, "self", os.Args[0], nil, func(*Peer) error {
		t.Error("callback should not be called with cancelled context")

		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestWithPeer_MissingCommand(t *testing.T) {
	err := WithPeer(t.Context(), "ghost", "definitely-not-a-real-toolhost-peer", nil, func(*Peer) error {
		t.Error("callback should not be called when the peer cannot start")

		return nil
	})

	_, ok := errors.AsType[*SpawnError](err)
	require.True(t, ok, "want SpawnError, got %v", err)
}

func TestWithPeer_CallsTool(t *testing.T) {
	var stats PeerStats

	err := WithPeer(t.Context(), "self", os.Args[0], nil, func(p *Peer) error {
		tools, err := p.ListTools(t.Context())
		require.NoError(t, err)
		require.Len(t, tools, 1)
		require.Equal(t, "sum", tools[0].Name)

		out, err := p.CallTool(t.Context(), "sum", map[string]any{"a": 20, "b": 22})
		require.NoError(t, err)

		var res map[string]float64
		require.NoError(t, json.Unmarshal(out, &res))
		require.InDelta(t, 42.0, res["result"], 0)

		_, err = p.CallTool(t.Context(), "sum", map[string]any{"a": "x"})
		require.Equal(t, CodeInvalidParams, ToRPC(err).Code)

		stats = p.Stats()

		return nil
	}, WithEnv(map[string]string{servePeerEnv: "1"}))

	require.NoError(t, err)
	require.Equal(t, "self", stats.Alias)
	require.Equal(t, "ready", stats.State)
	require.Zero(t, stats.Outstanding)
}
