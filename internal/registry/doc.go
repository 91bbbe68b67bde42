// Package registry holds the set of tools a host exposes.
//
// A Registry maps unique tool names to descriptors carrying a JSON Schema and
// a handler. Tools are registered at startup and the set is sealed before
// serving. Invoke validates arguments against the tool's schema and isolates
// handler failures: an error or panic in a handler is converted into an
// InternalError instead of propagating to the caller's goroutine.
package registry
