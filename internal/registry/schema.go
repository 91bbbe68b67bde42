package registry

import (
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Object creates an object schema from a simple type map. Every property is
// required unless listed in optional.
//
// Input format: {"a": "number", "path": "string", "sections": "[]object"}
func Object(props map[string]string, optional ...string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, typ := range props {
		properties[name] = typeSchema(typ)

		if !slices.Contains(optional, name) {
			required = append(required, name)
		}
	}

	slices.Sort(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func typeSchema(typ string) *jsonschema.Schema {
	switch typ {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "integer":
		return &jsonschema.Schema{Type: "integer"}
	case "float64", "float", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	case "object":
		return &jsonschema.Schema{Type: "object"}
	case "any":
		return &jsonschema.Schema{}
	default:
		if len(typ) > 2 && typ[:2] == "[]" {
			return &jsonschema.Schema{
				Type:  "array",
				Items: typeSchema(typ[2:]),
			}
		}

		return &jsonschema.Schema{Type: "string"}
	}
}
