package errors

import (
	"errors"
	"fmt"
	"time"
)

// Wire error codes. The negative 32xxx range follows JSON-RPC 2.0; the
// 3200x codes are server-defined.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeTimeout           = -32001
	CodeUninitialized     = -32002
	CodeProcessTerminated = -32003
)

// CodeName returns the taxonomy name for a wire error code.
func CodeName(code int) string {
	switch code {
	case CodeParseError:
		return "ParseError"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeInvalidParams:
		return "InvalidParams"
	case CodeInternalError:
		return "InternalError"
	case CodeTimeout:
		return "Timeout"
	case CodeUninitialized:
		return "Uninitialized"
	case CodeProcessTerminated:
		return "ProcessTerminated"
	default:
		return fmt.Sprintf("Error(%d)", code)
	}
}

// ToolhostError is the base interface for all tool host errors.
type ToolhostError interface {
	error
	IsToolhostError() bool
}

// Compile-time verification that all error types implement ToolhostError.
var (
	_ ToolhostError = (*RPCError)(nil)
	_ ToolhostError = (*ParseError)(nil)
	_ ToolhostError = (*TimeoutError)(nil)
	_ ToolhostError = (*ProcessTerminatedError)(nil)
	_ ToolhostError = (*SpawnError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrRegistrySealed indicates a registration after startup completed.
	ErrRegistrySealed = errors.New("registry sealed")

	// ErrNotStarted indicates a call on a client that was never started.
	ErrNotStarted = errors.New("external process not started")

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.New("external process already started")

	// ErrUninitialized indicates a tool method before the initialize handshake.
	ErrUninitialized = errors.New("server not initialized")

	// ErrLineTooLong indicates a frame exceeded the decoder's line limit.
	ErrLineTooLong = errors.New("message line too long")

	// ErrUnknownPeer indicates a router alias with no configured peer.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrProcessTerminated is matched by every ProcessTerminatedError.
	ErrProcessTerminated = errors.New("process terminated")

	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.New("request timeout")
)

// RPCError is a structured protocol error as carried on the wire.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", CodeName(e.Code), e.Message)
}

// IsToolhostError implements ToolhostError.
func (e *RPCError) IsToolhostError() bool { return true }

// RPCError returns the error itself so RPCError satisfies rpcConvertible.
func (e *RPCError) RPCError() *RPCError { return e }

// NewRPCError creates an RPCError with the given code and message.
func NewRPCError(code int, message string, data any) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// MethodNotFound builds a MethodNotFound error for the given method.
func MethodNotFound(method string) *RPCError {
	return &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
}

// InvalidParams builds an InvalidParams error.
func InvalidParams(message string, data any) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + message, Data: data}
}

// Uninitialized builds the error returned for tool methods before initialize.
func Uninitialized(method string) *RPCError {
	return &RPCError{
		Code:    CodeUninitialized,
		Message: fmt.Sprintf("%s received before initialize", method),
	}
}

// Internal builds an InternalError carrying cause as diagnostic data.
func Internal(message string, cause error, extra map[string]any) *RPCError {
	data := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}

	if cause != nil {
		data["cause"] = cause.Error()
	}

	return &RPCError{Code: CodeInternalError, Message: message, Data: data}
}

// ParseError indicates a frame that could not be parsed into a message.
type ParseError struct {
	// Raw is the offending line, truncated for diagnostics.
	Raw string
	// ID is the request id recovered from the partial text, if any.
	ID  any
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsToolhostError implements ToolhostError.
func (e *ParseError) IsToolhostError() bool { return true }

// RPCError converts the parse error to its wire form.
func (e *ParseError) RPCError() *RPCError {
	return &RPCError{Code: CodeParseError, Message: "parse error", Data: map[string]any{"detail": e.Err.Error()}}
}

// TimeoutError indicates an external call exceeded its deadline.
type TimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (id %d) timed out after %s", e.Method, e.ID, e.Timeout)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsToolhostError implements ToolhostError.
func (e *TimeoutError) IsToolhostError() bool { return true }

// RPCError converts the timeout to its wire form.
func (e *TimeoutError) RPCError() *RPCError {
	return &RPCError{Code: CodeTimeout, Message: e.Error()}
}

// ProcessTerminatedError indicates the external process exited before or
// during a call.
type ProcessTerminatedError struct {
	Alias    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessTerminatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process %q terminated (exit %d): %v", e.Alias, e.ExitCode, e.Err)
	}

	return fmt.Sprintf("process %q terminated (exit %d)", e.Alias, e.ExitCode)
}

func (e *ProcessTerminatedError) Unwrap() error {
	return e.Err
}

// Is matches ErrProcessTerminated.
func (e *ProcessTerminatedError) Is(target error) bool {
	return target == ErrProcessTerminated
}

// IsToolhostError implements ToolhostError.
func (e *ProcessTerminatedError) IsToolhostError() bool { return true }

// RPCError converts the termination to its wire form.
func (e *ProcessTerminatedError) RPCError() *RPCError {
	var data map[string]any
	if e.Stderr != "" {
		data = map[string]any{"stderr": e.Stderr}
	}

	return &RPCError{Code: CodeProcessTerminated, Message: e.Error(), Data: data}
}

// SpawnError indicates an external process could not be started.
type SpawnError struct {
	Command  string
	Searched []string
	Err      error
}

func (e *SpawnError) Error() string {
	if len(e.Searched) > 0 {
		return fmt.Sprintf("start %q (searched %v): %v", e.Command, e.Searched, e.Err)
	}

	return fmt.Sprintf("start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsToolhostError implements ToolhostError.
func (e *SpawnError) IsToolhostError() bool { return true }

type rpcConvertible interface {
	error
	RPCError() *RPCError
}

// ToRPC converts any error into a wire error. Errors outside the taxonomy
// become InternalError with the original message attached as cause.
func ToRPC(err error) *RPCError {
	if err == nil {
		return nil
	}

	if c, ok := errors.AsType[rpcConvertible](err); ok {
		return c.RPCError()
	}

	return Internal("internal error", err, nil)
}
