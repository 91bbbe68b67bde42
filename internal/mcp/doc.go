// Package mcp bridges the tool host to the Model Context Protocol SDK.
//
// Peer drives an external MCP server through an SDK client session, so
// third-party servers (for example the reference filesystem server) can be
// configured as router peers next to native peers. NewServer exposes a tool
// registry as an SDK server, which lets the host's own tools be served to MCP
// clients over any SDK transport.
package mcp
