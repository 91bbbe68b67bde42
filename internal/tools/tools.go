package tools

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/sandbox"
)

// decode unmarshals tool arguments that already passed schema validation.
func decode[T any](tool string, input json.RawMessage) (T, error) {
	var in T
	if err := json.Unmarshal(input, &in); err != nil {
		return in, errors.InvalidParams(fmt.Sprintf("%s: invalid input: %v", tool, err), nil)
	}

	return in, nil
}

// fileError maps sandbox refusals to InvalidParams and wraps other errors
// with the tool name.
func fileError(tool string, err error) error {
	if stderrors.Is(err, sandbox.ErrPathNotAllowed) || stderrors.Is(err, sandbox.ErrTooLarge) || stderrors.Is(err, errUnsupportedFormat) {
		return errors.InvalidParams(fmt.Sprintf("%s: %v", tool, err), nil)
	}

	return fmt.Errorf("%s: %w", tool, err)
}

func ptr[T any](v T) *T {
	return &v
}
