package toolhost

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTimeoutError_Creation tests TimeoutError formatting and matching.
func TestTimeoutError_Creation(t *testing.T) {
	err := &TimeoutError{Method: "tools/call", ID: 4, Timeout: 2 * time.Second}

	require.Error(t, err)
	require.Contains(t, err.Error(), "tools/call (id 4) timed out after 2s")
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, CodeTimeout, ToRPC(err).Code)
}

// TestProcessTerminatedError_WithExitCodeAndStderr tests exit details are kept.
func TestProcessTerminatedError_WithExitCodeAndStderr(t *testing.T) {
	err := &ProcessTerminatedError{
		Alias:    "fs",
		ExitCode: 7,
		Stderr:   "panic: boom",
	}

	require.Contains(t, err.Error(), `process "fs" terminated (exit 7)`)
	require.ErrorIs(t, err, ErrProcessTerminated)

	rpcErr := ToRPC(err)
	require.Equal(t, CodeProcessTerminated, rpcErr.Code)
	require.Equal(t, map[string]any{"stderr": "panic: boom"}, rpcErr.Data)
}

// TestProcessTerminatedError_Unwrap tests that the underlying error can be unwrapped.
func TestProcessTerminatedError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("broken pipe")
	err := fmt.Errorf("call: %w", &ProcessTerminatedError{Alias: "git", ExitCode: -1, Err: inner})

	require.ErrorIs(t, err, inner)

	termErr, ok := errors.AsType[*ProcessTerminatedError](err)
	require.True(t, ok)
	require.Equal(t, "git", termErr.Alias)
}

// TestToRPC_Fallback tests that foreign errors become InternalError.
func TestToRPC_Fallback(t *testing.T) {
	rpcErr := ToRPC(fmt.Errorf("disk full"))

	require.Equal(t, CodeInternalError, rpcErr.Code)
	require.Equal(t, "disk full", rpcErr.Data.(map[string]any)["cause"])
	require.Nil(t, ToRPC(nil))
}

// TestInvalidParams tests the handler-facing constructor.
func TestInvalidParams(t *testing.T) {
	err := InvalidParams("column not found", map[string]any{"column": "y"})

	require.Equal(t, CodeInvalidParams, err.Code)
	require.Equal(t, "InvalidParams: invalid params: column not found", err.Error())

	var base ToolhostError = err
	require.NotNil(t, base)
}
