package toolhost

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sumInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func sumTool() *Tool {
	return NewTool("sum", "Add two numbers",
		SimpleSchema(map[string]string{"a": "number", "b": "number"}),
		TypedHandler(func(_ context.Context, in sumInput) (any, error) {
			return map[string]float64{"result": in.A + in.B}, nil
		}),
	)
}

func TestTextResult(t *testing.T) {
	result := TextResult("Hello, World!")

	assert.Len(t, result.Content, 1)
	assert.False(t, result.IsError)

	textContent, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Hello, World!", textContent.Text)
}

func TestErrorResult(t *testing.T) {
	result := ErrorResult("Something went wrong")

	assert.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	textContent, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Something went wrong", textContent.Text)
}

func TestTool(t *testing.T) {
	t.Run("has name and description", func(t *testing.T) {
		tool := sumTool()

		assert.Equal(t, "sum", tool.Name())
		assert.Equal(t, "Add two numbers", tool.Description())

		schema := tool.InputSchema()
		require.NotNil(t, schema)
		assert.Equal(t, "object", schema.Type)
		assert.Equal(t, []string{"a", "b"}, schema.Required)
	})

	t.Run("typed handler decodes arguments", func(t *testing.T) {
		result, err := sumTool().Handler()(t.Context(), json.RawMessage(`{"a":2,"b":3}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"result": 5}, result)
	})

	t.Run("typed handler rejects undecodable arguments", func(t *testing.T) {
		_, err := sumTool().Handler()(t.Context(), json.RawMessage(`{"a":"two"}`))

		rpcErr := ToRPC(err)
		assert.Equal(t, CodeInvalidParams, rpcErr.Code)
	})

	t.Run("timeout bounds the handler", func(t *testing.T) {
		tool := NewTool("wait", "Waits for cancellation", nil,
			func(ctx context.Context, _ json.RawMessage) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			WithTimeout(20*time.Millisecond),
		)

		start := time.Now()
		_, err := tool.Handler()(t.Context(), nil)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestSimpleSchema_Optional(t *testing.T) {
	schema := SimpleSchema(map[string]string{"path": "string", "limit": "int", "tags": "[]string"}, "limit", "tags")

	assert.Equal(t, []string{"path"}, schema.Required)
	assert.Equal(t, "integer", schema.Properties["limit"].Type)
	assert.Equal(t, "array", schema.Properties["tags"].Type)
	assert.Equal(t, "string", schema.Properties["tags"].Items.Type)
}
