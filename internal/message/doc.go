// Package message implements the wire format of the tool protocol.
//
// Messages are JSON-RPC 2.0 objects, one per line. An Encoder writes each
// message as a single compact line with one Write call, so concurrent
// writers on the same stream never interleave. A Decoder consumes an
// arbitrarily chunked byte stream, yields one Message per complete line,
// reports malformed lines as *errors.ParseError (with the request id
// recovered from the partial text when possible), and reports end of
// stream as io.EOF.
package message
