package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

type sumArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func sumDescriptor(calls *atomic.Int32) Descriptor {
	return Descriptor{
		Name:        "sum",
		Description: "adds two numbers",
		InputSchema: Object(map[string]string{"a": "number", "b": "number"}),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			calls.Add(1)

			var args sumArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}

			return args.A + args.B, nil
		},
	}
}

func noop(context.Context, json.RawMessage) (any, error) { return nil, nil }

func TestList_SortedForAnyRegistrationOrder(t *testing.T) {
	orders := [][]string{
		{"zeta", "alpha", "mid"},
		{"mid", "zeta", "alpha"},
		{"alpha", "mid", "zeta"},
	}

	for _, order := range orders {
		reg := New(slog.Default())
		for _, name := range order {
			require.NoError(t, reg.Register(Descriptor{Name: name, Handler: noop}))
		}

		tools := reg.List()
		require.Len(t, tools, 3)

		names := make([]string, 0, len(tools))
		for _, tool := range tools {
			names = append(names, tool.Name)
		}

		require.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	}
}

func TestRegister_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		reg := New(slog.Default())
		require.NoError(t, reg.Register(Descriptor{Name: "x", Handler: noop}))

		err := reg.Register(Descriptor{Name: "x", Handler: noop})
		require.ErrorIs(t, err, errors.ErrDuplicateTool)
		require.Equal(t, 1, reg.Len())
	})

	t.Run("sealed", func(t *testing.T) {
		reg := New(slog.Default())
		reg.Seal()

		err := reg.Register(Descriptor{Name: "x", Handler: noop})
		require.ErrorIs(t, err, errors.ErrRegistrySealed)
	})

	t.Run("nil handler", func(t *testing.T) {
		reg := New(slog.Default())
		require.Error(t, reg.Register(Descriptor{Name: "x"}))
	})

	t.Run("must register panics on duplicate", func(t *testing.T) {
		reg := New(slog.Default())

		require.Panics(t, func() {
			reg.MustRegister(
				Descriptor{Name: "x", Handler: noop},
				Descriptor{Name: "x", Handler: noop},
			)
		})
	})
}

func TestInvoke_Sum(t *testing.T) {
	var calls atomic.Int32

	reg := New(slog.Default())
	reg.MustRegister(sumDescriptor(&calls))

	result, err := reg.Invoke(context.Background(), "sum", json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)
	require.InDelta(t, 5.0, result, 0)
	require.Equal(t, int32(1), calls.Load())
}

func TestInvoke_InvalidParamsSkipsHandler(t *testing.T) {
	var calls atomic.Int32

	reg := New(slog.Default())
	reg.MustRegister(sumDescriptor(&calls))

	cases := map[string]string{
		"wrong type":    `{"a":"x","b":3}`,
		"missing field": `{"a":1}`,
		"not an object": `[1,2]`,
		"not json":      `{a:1`,
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Invoke(context.Background(), "sum", json.RawMessage(args))

			rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
			require.True(t, ok)
			require.Equal(t, errors.CodeInvalidParams, rpcErr.Code)
		})
	}

	require.Equal(t, int32(0), calls.Load())
}

func TestInvoke_UnknownTool(t *testing.T) {
	reg := New(slog.Default())

	_, err := reg.Invoke(context.Background(), "nope", nil)

	rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, errors.CodeMethodNotFound, rpcErr.Code)
	require.Contains(t, rpcErr.Message, "nope")
}

func TestInvoke_EmptyArgsDefaultToObject(t *testing.T) {
	var got json.RawMessage

	reg := New(slog.Default())
	reg.MustRegister(Descriptor{
		Name: "noargs",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			got = raw
			return "ok", nil
		},
	})

	result, err := reg.Invoke(context.Background(), "noargs", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.JSONEq(t, `{}`, string(got))
}

func TestInvoke_HandlerFailuresBecomeInternalError(t *testing.T) {
	reg := New(slog.Default())
	reg.MustRegister(
		Descriptor{
			Name: "fails",
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, fmt.Errorf("disk on fire")
			},
		},
		Descriptor{
			Name: "panics",
			Handler: func(context.Context, json.RawMessage) (any, error) {
				var m map[string]int
				m["boom"]++

				return nil, nil
			},
		},
		Descriptor{
			Name: "rejects",
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, errors.InvalidParams("column not found", nil)
			},
		},
	)

	_, err := reg.Invoke(context.Background(), "fails", nil)
	rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, errors.CodeInternalError, rpcErr.Code)
	require.Equal(t, "disk on fire", rpcErr.Data.(map[string]any)["cause"])

	_, err = reg.Invoke(context.Background(), "panics", nil)
	rpcErr, ok = stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, errors.CodeInternalError, rpcErr.Code)

	data := rpcErr.Data.(map[string]any)
	require.Contains(t, data["cause"], "assignment to entry in nil map")
	require.NotEmpty(t, data["stack"])

	_, err = reg.Invoke(context.Background(), "rejects", nil)
	rpcErr, ok = stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, errors.CodeInvalidParams, rpcErr.Code)
}

func TestObjectSchema(t *testing.T) {
	schema := Object(map[string]string{
		"path":  "string",
		"limit": "integer",
		"cols":  "[]string",
	}, "limit", "cols")

	require.Equal(t, "object", schema.Type)
	require.Equal(t, []string{"path"}, schema.Required)
	require.Equal(t, "array", schema.Properties["cols"].Type)
	require.Equal(t, "string", schema.Properties["cols"].Items.Type)
}
