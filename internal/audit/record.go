package audit

import (
	"encoding/json"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// SourceLocal marks invocations served by the in-process registry.
const SourceLocal = "local"

// MethodParse is the method recorded for frames that failed to parse.
const MethodParse = "<parse>"

// Record is one journal line.
type Record struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	Source     string           `json:"source"`
	Method     string           `json:"method"`
	OK         bool             `json:"ok"`
	DurationMs float64          `json:"duration_ms"`
	Tool       string           `json:"tool,omitempty"`
	Args       json.RawMessage  `json:"args,omitempty"`
	Params     json.RawMessage  `json:"params,omitempty"`
	ResultSize int              `json:"result_size,omitempty"`
	Error      *errors.RPCError `json:"error,omitempty"`
}

// Finish fills the outcome fields of r from a call result.
func (r *Record) Finish(start time.Time, result any, err error) {
	r.DurationMs = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		r.OK = false
		r.Error = errors.ToRPC(err)

		return
	}

	r.OK = true
	r.ResultSize = Size(result)
}

// Size returns the encoded size of v in bytes, or 0 if it cannot be encoded.
func Size(v any) int {
	if raw, ok := v.(json.RawMessage); ok {
		return len(raw)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}

	return len(data)
}
