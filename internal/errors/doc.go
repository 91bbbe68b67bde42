// Package errors defines the error taxonomy of the tool host.
//
// Every failure that can reach a caller is expressible as an RPCError carrying
// a JSON-RPC error code. Typed errors (TimeoutError, ProcessTerminatedError,
// ParseError) keep their Go identity for errors.Is, errors.As and
// errors.AsType, and convert to an RPCError through ToRPC.
package errors
