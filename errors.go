package toolhost

import "github.com/wagiedev/toolhost-go/internal/errors"

// Re-export error types from internal package

// RPCError is a structured protocol error as carried on the wire.
type RPCError = errors.RPCError

// ParseError indicates a frame that could not be decoded.
type ParseError = errors.ParseError

// TimeoutError indicates a call to a peer exceeded its deadline.
type TimeoutError = errors.TimeoutError

// ProcessTerminatedError indicates a peer process exited before or during a call.
type ProcessTerminatedError = errors.ProcessTerminatedError

// SpawnError indicates a peer process could not be started.
type SpawnError = errors.SpawnError

// ToolhostError is the base interface for all tool host errors.
type ToolhostError = errors.ToolhostError

// Wire error codes.
const (
	CodeParseError        = errors.CodeParseError
	CodeInvalidRequest    = errors.CodeInvalidRequest
	CodeMethodNotFound    = errors.CodeMethodNotFound
	CodeInvalidParams     = errors.CodeInvalidParams
	CodeInternalError     = errors.CodeInternalError
	CodeTimeout           = errors.CodeTimeout
	CodeUninitialized     = errors.CodeUninitialized
	CodeProcessTerminated = errors.CodeProcessTerminated
)

// Re-export sentinel errors from internal package.
var (
	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.ErrDuplicateTool

	// ErrNotStarted indicates a call on a peer that was never started.
	ErrNotStarted = errors.ErrNotStarted

	// ErrAlreadyStarted indicates Start was called on a running peer.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrProcessTerminated is matched by every ProcessTerminatedError.
	ErrProcessTerminated = errors.ErrProcessTerminated

	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.ErrTimeout
)

// InvalidParams builds the error a handler returns for unusable arguments.
func InvalidParams(message string, data any) *RPCError {
	return errors.InvalidParams(message, data)
}

// ToRPC converts any error to its wire form. Errors outside the taxonomy
// become InternalError.
func ToRPC(err error) *RPCError {
	return errors.ToRPC(err)
}
