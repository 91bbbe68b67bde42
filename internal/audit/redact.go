package audit

import (
	"encoding/json"
	"regexp"
	"unicode/utf8"
)

const (
	// maxStringRunes caps string values kept in the journal.
	maxStringRunes = 1000

	redacted = "[REDACTED]"
)

var sensitiveKey = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|authorization)`)

// Redact returns a copy of v with long strings truncated and values under
// sensitive keys replaced.
func Redact(v any) any {
	switch val := v.(type) {
	case string:
		return truncate(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if sensitiveKey.MatchString(k) {
				out[k] = redacted
				continue
			}

			out[k] = Redact(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Redact(item)
		}

		return out
	default:
		return v
	}
}

// RedactJSON applies Redact to an encoded value. Input that is not valid
// JSON is replaced by a placeholder string.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(`"<unserializable>"`)
	}

	out, err := json.Marshal(Redact(v))
	if err != nil {
		return json.RawMessage(`"<unserializable>"`)
	}

	return out
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxStringRunes {
		return s
	}

	runes := []rune(s)

	return string(runes[:maxStringRunes]) + "…"
}
