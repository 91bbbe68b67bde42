package config

// Peer kinds.
const (
	// KindNative peers speak the newline-delimited protocol directly and are
	// driven by the host's own client.
	KindNative = "native"
	// KindMCP peers are reached through the official MCP SDK client.
	KindMCP = "mcp"
)

// NormalizePeerKind maps accepted aliases to canonical kind names.
//
// Mappings:
//   - "", "stdio", "jsonrpc" -> "native"
//   - "sdk", "mcp-sdk" -> "mcp"
func NormalizePeerKind(kind string) string {
	switch kind {
	case "", "stdio", "jsonrpc":
		return KindNative
	case "sdk", "mcp-sdk":
		return KindMCP
	default:
		return kind
	}
}
