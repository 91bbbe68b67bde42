package audit

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)

	defer f.Close()

	var records []Record

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))

		records = append(records, rec)
	}

	require.NoError(t, scanner.Err())

	return records
}

func TestJournal_AppendFillsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "mcp.log.jsonl")

	j, err := Open(slog.Default(), path, Options{})
	require.NoError(t, err)

	defer j.Close()

	require.NoError(t, j.Append(Record{
		Source:     SourceLocal,
		Method:     "tools/call",
		Tool:       "sum",
		Args:       json.RawMessage(`{"a":2,"b":3}`),
		OK:         true,
		ResultSize: 1,
	}))

	j.Record(Record{
		Source: SourceLocal,
		Method: "tools/call",
		Tool:   "sum",
		Error:  errors.InvalidParams("a must be number", nil),
	})

	records := readRecords(t, path)
	require.Len(t, records, 2)

	require.Len(t, records[0].ID, 26)
	require.False(t, records[0].Timestamp.IsZero())
	require.True(t, records[0].OK)
	require.JSONEq(t, `{"a":2,"b":3}`, string(records[0].Args))

	require.False(t, records[1].OK)
	require.Equal(t, errors.CodeInvalidParams, records[1].Error.Code)
	require.NotEqual(t, records[0].ID, records[1].ID)
}

func TestJournal_RedactsArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log.jsonl")

	j, err := Open(slog.Default(), path, Options{})
	require.NoError(t, err)

	defer j.Close()

	long := strings.Repeat("é", 1500)
	args, err := json.Marshal(map[string]any{
		"prompt":  long,
		"api_key": "sk-live-123",
		"nested":  map[string]any{"Authorization": "Bearer x", "keep": "me"},
		"list":    []any{long, 1},
	})
	require.NoError(t, err)

	j.Record(Record{Method: "tools/call", Tool: "llm_chat", Args: args})

	records := readRecords(t, path)
	require.Len(t, records, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(records[0].Args, &got))

	require.Equal(t, "[REDACTED]", got["api_key"])
	require.Equal(t, strings.Repeat("é", 1000)+"…", got["prompt"])
	require.Equal(t, map[string]any{"Authorization": "[REDACTED]", "keep": "me"}, got["nested"])

	list := got["list"].([]any)
	require.Equal(t, strings.Repeat("é", 1000)+"…", list[0])
	require.InDelta(t, 1.0, list[1], 0)
}

func TestJournal_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log.jsonl")

	j, err := Open(slog.Default(), path, Options{MaxBytes: 400})
	require.NoError(t, err)

	defer j.Close()

	for range 10 {
		require.NoError(t, j.Append(Record{Method: "tools/call", Tool: "sum", OK: true}))
	}

	_, err = os.Stat(path + ".1")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.LessOrEqual(t, info.Size(), int64(400))

	total := len(readRecords(t, path)) + len(readRecords(t, path+".1"))
	require.LessOrEqual(t, total, 10)
	require.Positive(t, total)
}

func TestJournal_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log.jsonl")

	for range 2 {
		j, err := Open(slog.Default(), path, Options{})
		require.NoError(t, err)

		j.Record(Record{Method: "ping", OK: true})
		require.NoError(t, j.Close())
	}

	require.Len(t, readRecords(t, path), 2)
}

func TestJournal_RecordAfterCloseIsSwallowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log.jsonl")

	j, err := Open(slog.Default(), path, Options{})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	err = j.Append(Record{Method: "ping"})
	require.ErrorIs(t, err, os.ErrClosed)

	require.NotPanics(t, func() {
		j.Record(Record{Method: "ping"})
	})
}

func TestJournal_ConcurrentRecordsAreWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log.jsonl")

	j, err := Open(slog.Default(), path, Options{})
	require.NoError(t, err)

	defer j.Close()

	var wg sync.WaitGroup

	for range 40 {
		wg.Go(func() {
			j.Record(Record{Method: "tools/call", Tool: "sum", Args: json.RawMessage(`{"a":1,"b":2}`)})
		})
	}

	wg.Wait()

	require.Len(t, readRecords(t, path), 40)
}

func TestRecord_Finish(t *testing.T) {
	start := time.Now().Add(-5 * time.Millisecond)

	var ok Record
	ok.Finish(start, map[string]any{"x": 1}, nil)
	require.True(t, ok.OK)
	require.Equal(t, len(`{"x":1}`), ok.ResultSize)
	require.GreaterOrEqual(t, ok.DurationMs, 5.0)

	var failed Record
	failed.Finish(start, nil, stderrors.New("boom"))
	require.False(t, failed.OK)
	require.Equal(t, errors.CodeInternalError, failed.Error.Code)
}

func TestNopAndMemory(t *testing.T) {
	nop := Nop()
	nop.Record(Record{Method: "x"})
	require.NoError(t, nop.Close())

	mem := &Memory{}
	mem.Record(Record{Method: "a"})
	mem.Record(Record{Method: "b"})

	records := mem.Records()
	require.Len(t, records, 2)
	require.Equal(t, "b", records[1].Method)
}
