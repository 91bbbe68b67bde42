package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRPCError(t *testing.T) {
	err := MethodNotFound("tools/frobnicate")

	require.Equal(t, "MethodNotFound: method not found: tools/frobnicate", err.Error())
	require.Equal(t, CodeMethodNotFound, err.Code)
	require.True(t, err.IsToolhostError())
}

func TestInternal_AttachesCause(t *testing.T) {
	root := errors.New("disk on fire")
	err := Internal("tool failed", root, map[string]any{"tool": "sum"})

	require.Equal(t, CodeInternalError, err.Code)
	require.Equal(t, map[string]any{"cause": "disk on fire", "tool": "sum"}, err.Data)
}

func TestParseError(t *testing.T) {
	root := errors.New("unexpected end of JSON input")
	err := &ParseError{Raw: `{"id":7,`, ID: float64(7), Err: root}

	require.Equal(t, "parse error: unexpected end of JSON input", err.Error())
	require.ErrorIs(t, err, root)
	require.Equal(t, CodeParseError, err.RPCError().Code)
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Method: "ping", ID: 3, Timeout: time.Second}

	require.Equal(t, "ping (id 3) timed out after 1s", err.Error())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, CodeTimeout, ToRPC(err).Code)
}

func TestProcessTerminatedError(t *testing.T) {
	root := errors.New("signal: killed")
	err := &ProcessTerminatedError{Alias: "fs", ExitCode: -1, Stderr: "boom", Err: root}

	require.Equal(t, `process "fs" terminated (exit -1): signal: killed`, err.Error())
	require.ErrorIs(t, err, root)
	require.ErrorIs(t, err, ErrProcessTerminated)

	rpc := ToRPC(fmt.Errorf("call: %w", err))
	require.Equal(t, CodeProcessTerminated, rpc.Code)
	require.Equal(t, map[string]any{"stderr": "boom"}, rpc.Data)
}

func TestToRPC(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.Nil(t, ToRPC(nil))
	})

	t.Run("wrapped rpc error is unwrapped", func(t *testing.T) {
		orig := InvalidParams("a must be number", nil)
		require.Same(t, orig, ToRPC(fmt.Errorf("invoke: %w", orig)))
	})

	t.Run("foreign error becomes internal", func(t *testing.T) {
		rpc := ToRPC(errors.New("nope"))
		require.Equal(t, CodeInternalError, rpc.Code)
		require.Equal(t, map[string]any{"cause": "nope"}, rpc.Data)
	})
}

func TestCodeName(t *testing.T) {
	require.Equal(t, "Uninitialized", CodeName(CodeUninitialized))
	require.Equal(t, "Error(42)", CodeName(42))
}

func TestSpawnError(t *testing.T) {
	err := &SpawnError{Command: "fs-peer", Searched: []string{"$PATH"}, Err: os.ErrNotExist}

	require.ErrorIs(t, err, os.ErrNotExist)
	require.Contains(t, err.Error(), `"fs-peer"`)
	require.Equal(t, CodeInternalError, ToRPC(err).Code)
}
