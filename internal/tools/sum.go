package tools

import (
	"context"
	"encoding/json"

	"github.com/wagiedev/toolhost-go/internal/registry"
)

type sumInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func sumTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "sum",
		Description: "Add two numbers.",
		InputSchema: registry.Object(map[string]string{"a": "number", "b": "number"}),
		Handler:     handleSum,
	}
}

func handleSum(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[sumInput]("sum", input)
	if err != nil {
		return nil, err
	}

	return map[string]float64{"result": in.A + in.B}, nil
}
