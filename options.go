package toolhost

import (
	"log/slog"
	"time"

	"github.com/wagiedev/toolhost-go/internal/audit"
)

// Recorder receives one audit record per tool invocation.
type Recorder = audit.Recorder

// Record is one audit journal entry.
type Record = audit.Record

// Option configures servers and peers using the functional options pattern.
type Option func(*Options)

// Options holds settings shared by Serve, NewMCPServer and StartPeer.
type Options struct {
	// Logger receives diagnostics. Nil means NopLogger.
	Logger *slog.Logger
	// Recorder receives audit records for served tool calls.
	Recorder Recorder
	// Name and Version identify a server in initialize results, or a
	// client in initialize requests.
	Name    string
	Version string
	// CallTimeout is the default deadline of peer calls.
	CallTimeout time.Duration
	// Dir is the working directory of a spawned peer.
	Dir string
	// Env holds extra environment variables for a spawned peer.
	Env map[string]string
}

func applyOptions(opts []Option) *Options {
	options := &Options{Name: "toolhost", Version: "dev"}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = NopLogger()
	}

	if options.Recorder == nil {
		options.Recorder = audit.Nop()
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithRecorder sets the audit recorder for served tool calls.
func WithRecorder(r Recorder) Option {
	return func(o *Options) {
		o.Recorder = r
	}
}

// WithInfo sets the implementation name and version.
func WithInfo(name, version string) Option {
	return func(o *Options) {
		o.Name = name
		o.Version = version
	}
}

// WithCallTimeout sets the default deadline of peer calls.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = d
	}
}

// WithDir sets the working directory of a spawned peer.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithEnv adds environment variables for a spawned peer.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// OpenJournal opens an append-only JSON lines audit journal at path,
// rotating to "<path>.1" once it grows past maxBytes (zero means the default).
func OpenJournal(path string, maxBytes int64, opts ...Option) (Recorder, error) {
	options := applyOptions(opts)

	journal, err := audit.Open(options.Logger, path, audit.Options{MaxBytes: maxBytes})
	if err != nil {
		return nil, err
	}

	return journal, nil
}
