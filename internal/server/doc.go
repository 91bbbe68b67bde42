// Package server runs the host side of the tool protocol over a byte stream.
//
// A Server reads newline-delimited messages, dispatches them sequentially and
// writes exactly one response per request. The connection follows the state
// machine Uninitialized → Ready → Closed: tool methods are rejected until the
// initialize handshake completes, and the loop ends only when the input
// reaches end of stream, the context is cancelled, a shutdown request is
// served, or the output stream fails.
package server
