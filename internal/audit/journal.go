package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultMaxBytes is the size at which the journal is rotated.
const DefaultMaxBytes = 5 * 1024 * 1024

// Recorder accepts audit records. Record never fails from the caller's
// point of view.
type Recorder interface {
	Record(rec Record)
	Close() error
}

// Compile-time verification that Journal implements Recorder.
var _ Recorder = (*Journal)(nil)

// Options configures a Journal.
type Options struct {
	// MaxBytes triggers rotation to "<path>.1" once the file grows past it.
	// Zero means DefaultMaxBytes; negative disables rotation.
	MaxBytes int64
}

// Journal is an append-only JSON lines file.
type Journal struct {
	log  *slog.Logger
	path string
	max  int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// Open creates parent directories and opens path for appending.
func Open(log *slog.Logger, path string, opts Options) (*Journal, error) {
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &Journal{
		log:  log.With("component", "audit"),
		path: path,
		max:  opts.MaxBytes,
	}

	if err := j.open(); err != nil {
		return nil, err
	}

	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("stat journal: %w", err)
	}

	j.file = f
	j.size = info.Size()

	return nil
}

// Append writes one record and syncs it to disk before returning. Missing
// ID and Timestamp are filled in; arguments and params are redacted.
func (j *Journal) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	rec.Args = RedactJSON(rec.Args)
	rec.Params = RedactJSON(rec.Params)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("append record: %w", os.ErrClosed)
	}

	if j.max > 0 && j.size > 0 && j.size+int64(len(line)) > j.max {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	n, err := j.file.Write(line)
	j.size += int64(n)

	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	return nil
}

// rotate renames the current file to "<path>.1" and opens a fresh one.
// Caller must hold j.mu.
func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		j.log.Warn("close journal before rotation", "error", err)
	}

	j.file = nil

	if err := os.Rename(j.path, j.path+".1"); err != nil {
		j.log.Warn("rotate journal", "error", err)
	}

	return j.open()
}

// Record appends rec, reporting failures to the diagnostic logger only.
func (j *Journal) Record(rec Record) {
	if err := j.Append(rec); err != nil {
		j.log.Warn("audit record dropped", "method", rec.Method, "tool", rec.Tool, "error", err)
	}
}

// Close releases the file handle. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}

	err := j.file.Close()
	j.file = nil

	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	return nil
}

type nopRecorder struct{}

func (nopRecorder) Record(Record) {}
func (nopRecorder) Close() error  { return nil }

// Nop returns a Recorder that discards records.
func Nop() Recorder {
	return nopRecorder{}
}

// Memory collects records in memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// Record implements Recorder.
func (m *Memory) Record(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
}

// Close implements Recorder.
func (m *Memory) Close() error { return nil }

// Records returns a snapshot of the collected records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)

	return out
}
