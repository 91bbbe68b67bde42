// Package sandbox confines tool file access to a set of allowed directories
// and caps the size of files tools read or write.
package sandbox

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes caps file reads and writes.
const DefaultMaxBytes = 25 * 1024 * 1024 // 25MB

var (
	// ErrPathNotAllowed indicates a path outside every allowed directory.
	ErrPathNotAllowed = stderrors.New("path not allowed")

	// ErrTooLarge indicates a file over the size cap.
	ErrTooLarge = stderrors.New("file too large")
)

// Sandbox resolves paths against allowed roots.
type Sandbox struct {
	base     string
	roots    []string
	maxBytes int64
}

// New creates a sandbox. Relative paths given to the sandbox resolve against
// base (the working directory when empty). A leading "~" in allowed entries
// expands to the user's home directory.
func New(base string, allowed []string, maxBytes int64) (*Sandbox, error) {
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("sandbox: get working directory: %w", err)
		}

		base = wd
	}

	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve base: %w", err)
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	s := &Sandbox{base: base, maxBytes: maxBytes}

	for _, dir := range allowed {
		root, err := s.absolute(expandHome(dir))
		if err != nil {
			return nil, err
		}

		s.roots = append(s.roots, canonical(root))
	}

	return s, nil
}

// Roots returns the allowed directories.
func (s *Sandbox) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Base returns the directory relative paths resolve against.
func (s *Sandbox) Base() string {
	return s.base
}

// MaxBytes returns the size cap.
func (s *Sandbox) MaxBytes() int64 {
	return s.maxBytes
}

// Resolve returns the absolute form of path if it lies inside an allowed
// root. Symlinks are followed for the part of the path that exists.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sandbox: empty path")
	}

	abs, err := s.absolute(expandHome(path))
	if err != nil {
		return "", err
	}

	real := canonical(abs)

	for _, root := range s.roots {
		if within(root, real) {
			return abs, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
}

// ReadFile reads a file inside the sandbox, refusing files over the cap.
func (s *Sandbox) ReadFile(path string) ([]byte, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs) //nolint:gosec // path is confined to the sandbox
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // best-effort close on read

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, s.maxBytes)
	}

	return data, nil
}

// WriteFile writes a file inside the sandbox, creating parent directories.
func (s *Sandbox) WriteFile(path string, data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), s.maxBytes)
	}

	abs, err := s.Resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}

	if err := os.WriteFile(abs, data, fileMode(abs)); err != nil {
		return "", err
	}

	return abs, nil
}

func (s *Sandbox) absolute(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.base, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve %s: %w", path, err)
	}

	return abs, nil
}

// canonical evaluates symlinks on the longest existing prefix of path.
func canonical(path string) string {
	rest := ""
	cur := path

	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(real, rest)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}

		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// fileMode returns the existing file's permission bits, or 0o644 for new files.
func fileMode(path string) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0o644
	}

	return info.Mode().Perm()
}
