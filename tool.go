package toolhost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
	internalmcp "github.com/wagiedev/toolhost-go/internal/mcp"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

// Re-export schema and MCP types for public API.
type (
	// Schema is a JSON Schema object for tool input validation.
	Schema = jsonschema.Schema

	// McpTool is the tool metadata reported by tools/list.
	McpTool = mcp.Tool

	// CallToolResult is an MCP tool result.
	CallToolResult = mcp.CallToolResult
)

// Handler executes a tool. args already satisfied the tool's input schema.
// Returning an *RPCError sends that error unchanged; any other error is
// reported as InternalError with the error text as its cause.
type Handler = registry.Handler

// ToolOption configures a Tool during construction.
type ToolOption func(*Tool)

// WithTimeout bounds every invocation of the tool.
func WithTimeout(d time.Duration) ToolOption {
	return func(t *Tool) {
		t.ToolTimeout = d
	}
}

// Tool is a named, schema-validated operation served by Serve or
// NewMCPServer.
type Tool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      *jsonschema.Schema
	ToolHandler     Handler
	ToolTimeout     time.Duration
}

// Name returns the tool name.
func (t *Tool) Name() string {
	return t.ToolName
}

// Description returns the tool description.
func (t *Tool) Description() string {
	return t.ToolDescription
}

// InputSchema returns the JSON Schema for the tool input.
func (t *Tool) InputSchema() *jsonschema.Schema {
	return t.ToolSchema
}

// Handler returns the tool handler, wrapped with the tool timeout if set.
func (t *Tool) Handler() Handler {
	if t.ToolTimeout <= 0 {
		return t.ToolHandler
	}

	timeout, handler := t.ToolTimeout, t.ToolHandler

	return func(ctx context.Context, args json.RawMessage) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, args)
	}
}

func (t *Tool) descriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        t.ToolName,
		Description: t.ToolDescription,
		InputSchema: t.ToolSchema,
		Handler:     t.Handler(),
	}
}

// NewTool creates a Tool with optional configuration.
//
// Example:
//
//	sum := toolhost.NewTool("sum", "Add two numbers",
//	    toolhost.SimpleSchema(map[string]string{"a": "number", "b": "number"}),
//	    toolhost.TypedHandler(func(_ context.Context, in struct{ A, B float64 }) (any, error) {
//	        return map[string]float64{"result": in.A + in.B}, nil
//	    }),
//	)
func NewTool(name, description string, inputSchema *jsonschema.Schema, handler Handler, opts ...ToolOption) *Tool {
	t := &Tool{
		ToolName:        name,
		ToolDescription: description,
		ToolSchema:      inputSchema,
		ToolHandler:     handler,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// TypedHandler adapts a function taking decoded arguments. Arguments that do
// not decode into In are rejected with InvalidParams.
func TypedHandler[In any](fn func(ctx context.Context, in In) (any, error)) Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, errors.InvalidParams(err.Error(), nil)
		}

		return fn(ctx, in)
	}
}

// SimpleSchema creates an object schema from a simple type map. Every
// property is required unless listed in optional.
//
// Type mappings:
//   - "string"                    → {"type": "string"}
//   - "int", "integer"            → {"type": "integer"}
//   - "number", "float64"         → {"type": "number"}
//   - "bool", "boolean"           → {"type": "boolean"}
//   - "object"                    → {"type": "object"}
//   - "[]T"                       → {"type": "array", "items": T}
func SimpleSchema(props map[string]string, optional ...string) *jsonschema.Schema {
	return registry.Object(props, optional...)
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return internalmcp.TextResult(text)
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return internalmcp.ErrorResult(message)
}
