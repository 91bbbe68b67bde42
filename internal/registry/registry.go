package registry

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// Handler executes a tool with arguments that already satisfied its schema.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor describes a tool to register.
type Descriptor struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// entry holds tool metadata, its resolved schema and handler.
type entry struct {
	tool     *mcp.Tool
	resolved *jsonschema.Resolved
	handler  Handler
}

// Registry is a name to tool map. It is safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	tools  map[string]*entry
	sealed bool
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:   log.With("component", "registry"),
		tools: make(map[string]*entry, 16),
	}
}

// Register adds a tool. Names must be unique and the registry must not be
// sealed. A nil schema accepts any JSON object.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}

	if d.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", d.Name)
	}

	schema := d.InputSchema
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("register tool %q: resolve schema: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register tool %q: %w", d.Name, errors.ErrRegistrySealed)
	}

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("register tool %q: %w", d.Name, errors.ErrDuplicateTool)
	}

	r.tools[d.Name] = &entry{
		tool: &mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		},
		resolved: resolved,
		handler:  d.Handler,
	}

	r.log.Debug("registered tool", "tool", d.Name)

	return nil
}

// MustRegister is like Register but panics on error. Registration failures
// are startup misconfigurations.
func (r *Registry) MustRegister(descriptors ...Descriptor) {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Seal freezes the tool set. Later Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// List returns metadata for all registered tools sorted by name.
func (r *Registry) List() []*mcp.Tool {
	r.mu.RLock()

	result := make([]*mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		result = append(result, e.tool)
	}

	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b *mcp.Tool) int {
		return strings.Compare(a.Name, b.Name)
	})

	return result
}

// Lookup returns the metadata of a tool.
func (r *Registry) Lookup(name string) (*mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}

	return e.tool, true
}

// Invoke runs the named tool.
//
// An unknown name fails with MethodNotFound. Arguments that do not satisfy
// the tool's schema fail with InvalidParams and the handler is not called.
// A handler error or panic becomes an InternalError whose data carries the
// cause; handler errors that already are *errors.RPCError pass through.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	e, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.NewRPCError(errors.CodeMethodNotFound, "tool not found: "+name, map[string]any{"tool": name})
	}

	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = json.RawMessage("{}")
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return nil, errors.InvalidParams("arguments are not valid JSON", map[string]any{"detail": err.Error()})
	}

	if err := e.resolved.Validate(instance); err != nil {
		return nil, errors.InvalidParams(err.Error(), map[string]any{"tool": name})
	}

	return r.call(ctx, e, args)
}

// call runs the handler, converting a panic or error into an RPC error.
func (r *Registry) call(ctx context.Context, e *entry, args json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool handler panicked", "tool", e.tool.Name, "panic", rec)

			result = nil
			err = errors.Internal("tool handler panicked", fmt.Errorf("panic: %v", rec), map[string]any{
				"tool":  e.tool.Name,
				"stack": string(debug.Stack()),
			})
		}
	}()

	result, err = e.handler(ctx, args)
	if err == nil {
		return result, nil
	}

	if rpcErr, ok := stderrors.AsType[*errors.RPCError](err); ok {
		return nil, rpcErr
	}

	r.log.Debug("tool handler failed", "tool", e.tool.Name, "error", err)

	return nil, errors.Internal("tool execution failed", err, map[string]any{"tool": e.tool.Name})
}
